// Package asr implements the per-session streaming recognition pipeline:
// the state machines that turn an unbounded PCM sample stream into timed,
// speaker-attributed sentences.
//
// # Engines
//
// Two engine shapes exist behind the [Engine] interface, selected by the
// server's recognizer mode:
//
//   - [Offline] — segmented mode. A windowed voice-activity detector
//     drives utterance boundaries and each utterance is decoded by a
//     non-streaming recognizer.
//   - [Online] — streaming mode. Audio is fed continuously to an
//     incremental decoder whose endpoint rules close utterances.
//
// Engines are not safe for concurrent use; the session serializes calls.
// Recognition output is delivered through the [Emitter] callback, which
// the session implements to generate protocol events. Punctuation runs
// once per sentence on the final text, and an optional [Identifier] tags
// the finished utterance with a speaker.
package asr

import (
	"log/slog"

	"github.com/haivivi/zasr/pkg/inference"
)

// Speaker is an established speaker identity for one utterance.
type Speaker struct {
	ID         string
	Name       string
	Confidence float32
}

// Identifier resolves the speaker of a finished utterance from its raw
// samples. Implementations must be safe for concurrent use across
// sessions.
type Identifier interface {
	Identify(samples []int16) (Speaker, bool)
}

// Emitter receives recognition events in order. Calls for one engine are
// serialized; an emitter is never called concurrently by its engine.
type Emitter interface {
	// SentenceBegin reports that utterance index starts at timeMS.
	SentenceBegin(index int, timeMS int64)

	// Result reports changed intermediate text for an open utterance.
	Result(index int, timeMS int64, text string)

	// SentenceEnd reports the final, punctuated text of an utterance.
	// speaker is nil when no identity was established.
	SentenceEnd(index int, timeMS, beginMS int64, text string, speaker *Speaker)
}

// Engine ingests session audio and emits sentence events.
type Engine interface {
	// Ingest processes newly arrived samples.
	Ingest(samples []int16) error

	// Finish drains pending audio and closes any open sentence. Called
	// when the client ends the session.
	Finish() error

	// Close releases the engine's inference resources.
	Close() error
}

// sentence tracks the in-flight utterance.
type sentence struct {
	index   int
	beginMS int64
	text    string
	active  bool
}

// punctuate applies p to text, passing the text through unchanged when p
// is nil or fails.
func punctuate(p inference.Punctuator, text string, log *slog.Logger) string {
	if p == nil || text == "" {
		return text
	}
	out, err := p.Punctuate(text)
	if err != nil {
		log.Warn("asr: punctuation failed", "error", err)
		return text
	}
	return out
}

// identify runs the optional speaker identifier over utterance audio.
func identify(id Identifier, samples []int16) *Speaker {
	if id == nil || len(samples) == 0 {
		return nil
	}
	spk, ok := id.Identify(samples)
	if !ok {
		return nil
	}
	return &spk
}
