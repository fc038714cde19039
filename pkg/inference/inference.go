// Package inference defines the capability surface the gateway consumes
// from a neural inference toolkit.
//
// The gateway never links a model runtime directly. Everything it needs —
// offline and online speech recognition, voice activity detection, speaker
// embeddings, diarization, punctuation — is expressed as a small interface
// here, and concrete toolkits register themselves by name (see [Register]).
// This keeps the recognition pipeline testable with scripted fakes and lets
// a deployment choose its runtime at link time, the same way database/sql
// drivers do.
//
// # Capabilities
//
//   - [OfflineRecognizer] — whole-utterance decoding, one stream per
//     utterance
//   - [OnlineRecognizer] — incremental decoding with built-in endpointing,
//     one long-lived stream per session
//   - [VoiceDetector] — windowed speech probability driving segmentation
//   - [EmbeddingExtractor] — fixed-dimension speaker embeddings
//   - [EmbeddingManager] — register/search/verify over named embeddings
//   - [Diarizer] — speaker counting for enrollment pre-validation
//   - [Punctuator] — text to punctuated text
//
// All implementations must be safe for concurrent use unless noted on the
// individual interface.
package inference

// OfflineRecognizer decodes complete utterances. A new stream is created
// per utterance; audio is fed as it arrives and decoded once enough has
// accumulated.
type OfflineRecognizer interface {
	// NewStream creates a decoding stream for one utterance.
	NewStream() (OfflineStream, error)

	// Close releases the model.
	Close() error
}

// OfflineStream is a single-utterance decoding stream. Streams are not
// safe for concurrent use; the caller serializes access.
type OfflineStream interface {
	// AcceptWaveform feeds normalized float samples at the given rate.
	AcceptWaveform(sampleRate int, samples []float32)

	// Decode runs recognition over everything fed so far.
	Decode() error

	// Text returns the current recognition result.
	Text() string

	// Close releases the stream.
	Close() error
}

// OnlineRecognizer decodes incrementally and detects utterance endpoints
// itself.
type OnlineRecognizer interface {
	// NewStream creates a long-lived decoding stream.
	NewStream() (OnlineStream, error)

	// Close releases the model.
	Close() error
}

// OnlineStream is an incremental decoding stream. Streams are not safe
// for concurrent use; the caller serializes access.
type OnlineStream interface {
	// AcceptWaveform feeds normalized float samples at the given rate.
	AcceptWaveform(sampleRate int, samples []float32)

	// IsReady reports whether enough features are buffered for a decode.
	IsReady() bool

	// Decode advances recognition by one step.
	Decode() error

	// Text returns the recognition result for the current utterance.
	Text() string

	// IsEndpoint reports whether the endpoint rules fired.
	IsEndpoint() bool

	// Reset clears utterance state in place so the stream can continue
	// with the next utterance.
	Reset()

	// Close releases the stream.
	Close() error
}

// VoiceDetector is a windowed voice-activity detector. The caller feeds
// fixed-size windows; the detector reports whether speech is currently
// active and queues completed speech segments. Detectors are not safe for
// concurrent use; the caller serializes access.
type VoiceDetector interface {
	// AcceptWaveform feeds one window of normalized float samples.
	AcceptWaveform(samples []float32)

	// IsDetected reports whether speech is currently active.
	IsDetected() bool

	// IsEmpty reports whether no completed speech segments are queued.
	IsEmpty() bool

	// Pop drops the front completed segment.
	Pop()

	// Close releases the detector.
	Close() error
}

// EmbeddingExtractor computes fixed-dimension speaker embeddings from
// normalized float samples.
type EmbeddingExtractor interface {
	// Extract computes an embedding. It returns nil (no error) when the
	// audio is too short for a meaningful embedding.
	Extract(samples []float32) ([]float32, error)

	// Dim returns the embedding dimensionality.
	Dim() int

	// Close releases the model.
	Close() error
}

// EmbeddingManager indexes named speaker embeddings for similarity search.
// The gateway ships a native implementation (voiceprint.Manager); toolkits
// may substitute their own.
type EmbeddingManager interface {
	// Register associates one or more embeddings with a name. Registering
	// an existing name adds to its embeddings.
	Register(name string, embeddings [][]float32) error

	// Search returns the registered name whose embedding is most similar
	// to the query, if the cosine similarity meets threshold.
	Search(query []float32, threshold float32) (name string, ok bool)

	// Verify reports whether the query matches the named speaker at the
	// given threshold.
	Verify(name string, query []float32, threshold float32) bool

	// Remove drops a name and its embeddings.
	Remove(name string) error
}

// Diarizer reports how many distinct speakers an audio buffer contains.
type Diarizer interface {
	// NumSpeakers processes the audio and returns the detected speaker
	// count.
	NumSpeakers(samples []float32) (int, error)

	// Close releases the models.
	Close() error
}

// Punctuator restores punctuation in recognized text.
type Punctuator interface {
	// Punctuate returns the punctuated form of text.
	Punctuate(text string) (string, error)

	// Close releases the model.
	Close() error
}
