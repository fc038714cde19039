// Package voiceprint provides speaker identification backed by a
// persistent on-disk voice-print catalog.
//
// # Catalog layout
//
// The catalog is rooted at a configurable directory (default
// $HOME/.zasr/voice-prints):
//
//	<root>/voice-prints.yaml     # YAML index
//	<root>/embeddings/<id>.bin   # one embedding binary per speaker
//	<root>/samples/<id>/<n>.wav  # enrollment audio copies
//
// The embedding binary starts with a 4-byte little-endian dimension
// followed by dim float32 values. The index is always rewritten last so a
// crash can at worst leave an orphaned embedding file, which Validate
// reports.
//
// # Pipeline
//
// The [Identifier] wires an embedding extractor and an [inference.EmbeddingManager]
// to the catalog: extract an embedding from an utterance, search the
// manager for a known speaker above the similarity threshold, and
// optionally auto-register unmatched voices as unknown-<N> records.
package voiceprint

import "errors"

// Sentinel errors.
var (
	// ErrNotFound is returned when a speaker id is not in the catalog.
	ErrNotFound = errors.New("voiceprint: speaker not found")

	// ErrMultipleSpeakers is returned by enrollment when diarization
	// detects more than one speaker in a sample file.
	ErrMultipleSpeakers = errors.New("voiceprint: multiple speakers detected in sample")
)
