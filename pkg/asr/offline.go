package asr

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/inference"
)

// OfflineConfig assembles an [Offline] engine.
type OfflineConfig struct {
	// Recognizer decodes whole utterances. Owned by the engine.
	Recognizer inference.OfflineRecognizer

	// VAD drives utterance boundaries. Owned by the engine.
	VAD inference.VoiceDetector

	// WindowSize is the VAD window in samples.
	WindowSize int

	// Punctuator is optional and may be shared across sessions.
	Punctuator inference.Punctuator

	// Identifier is optional and may be shared across sessions.
	Identifier Identifier

	// UpdateInterval throttles intermediate Result events. Default 200ms.
	UpdateInterval time.Duration

	// Now is a clock hook for tests. Default time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Offline is the segmented-mode engine: VAD windows decide where
// utterances begin and end, and each utterance is decoded by a
// non-streaming recognizer while it is still growing.
//
// The raw int16 buffer is authoritative; the float view is derived from
// it and both are cleared together when a segment completes. Two cursors
// walk the float view: vadOffset marks the next VAD window, streamedOffset
// marks the next sample to feed the decoder stream.
type Offline struct {
	cfg OfflineConfig
	log *slog.Logger
	now func() time.Time

	stream inference.OfflineStream

	raw            []int16
	floats         []float32
	vadOffset      int
	streamedOffset int
	speechActive   bool
	totalSamples   int64

	sent       sentence
	counter    int
	lastUpdate time.Time

	emitter Emitter
}

var _ Engine = (*Offline)(nil)

// NewOffline creates a segmented-mode engine emitting to emitter.
func NewOffline(cfg OfflineConfig, emitter Emitter) (*Offline, error) {
	if cfg.Recognizer == nil || cfg.VAD == nil {
		return nil, fmt.Errorf("asr: offline engine needs a recognizer and a VAD")
	}
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("asr: offline engine needs a positive VAD window")
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Offline{
		cfg:        cfg,
		log:        log,
		now:        cfg.Now,
		emitter:    emitter,
		lastUpdate: cfg.Now(),
	}, nil
}

// Ingest appends newly arrived samples and advances the pipeline.
func (e *Offline) Ingest(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	e.raw = append(e.raw, samples...)
	e.floats = audio.AppendFloat(e.floats, samples)
	e.totalSamples += int64(len(samples))
	e.process()
	return nil
}

func (e *Offline) process() {
	w := e.cfg.WindowSize

	// Submit complete VAD windows. Speech onset opens a sentence and a
	// fresh decoder stream.
	for e.vadOffset+w <= len(e.floats) {
		e.cfg.VAD.AcceptWaveform(e.floats[e.vadOffset : e.vadOffset+w])
		if !e.speechActive && e.cfg.VAD.IsDetected() {
			e.startSentence()
		}
		e.vadOffset += w
	}

	// No speech yet: keep the tail bounded so a silent client does not
	// grow the buffers forever.
	if !e.speechActive && len(e.floats) > 10*w {
		e.trimTo(10 * w)
	}

	// Feed everything new to the decoder stream and refresh the
	// intermediate result at the configured cadence.
	if e.speechActive && e.stream != nil {
		if e.streamedOffset > len(e.floats) {
			e.streamedOffset = 0
		}
		if e.streamedOffset < len(e.floats) {
			e.stream.AcceptWaveform(audio.SampleRate, e.floats[e.streamedOffset:])
			e.streamedOffset = len(e.floats)
		}

		if now := e.now(); now.Sub(e.lastUpdate) >= e.cfg.UpdateInterval {
			e.lastUpdate = now
			if text, ok := e.decode(); ok && text != e.sent.text {
				e.sent.text = text
				e.emitter.Result(e.sent.index, audio.SamplesToMS(e.totalSamples), text)
			}
		}
	}

	// Drain completed VAD segments; any of them closes the current
	// sentence.
	popped := false
	for !e.cfg.VAD.IsEmpty() {
		e.cfg.VAD.Pop()
		popped = true
	}
	if popped {
		e.finishSentence()
	}
}

func (e *Offline) startSentence() {
	stream, err := e.cfg.Recognizer.NewStream()
	if err != nil {
		e.log.Error("asr: create offline stream", "error", err)
		return
	}
	e.stream = stream
	e.speechActive = true
	e.streamedOffset = 0

	e.counter++
	beginMS := audio.SamplesToMS(e.totalSamples)
	e.sent = sentence{index: e.counter, beginMS: beginMS, active: true}
	e.emitter.SentenceBegin(e.counter, beginMS)
}

// finishSentence decodes the utterance one last time, attributes the
// speaker, emits SentenceEnd, and resets all per-utterance state.
func (e *Offline) finishSentence() {
	if e.stream != nil && e.sent.active {
		if text, ok := e.decode(); ok {
			e.sent.text = text
		}
		final := punctuate(e.cfg.Punctuator, e.sent.text, e.log)
		speaker := identify(e.cfg.Identifier, e.raw)
		e.emitter.SentenceEnd(e.sent.index, audio.SamplesToMS(e.totalSamples), e.sent.beginMS, final, speaker)
	}
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.speechActive = false
	e.streamedOffset = 0
	e.vadOffset = 0
	e.raw = e.raw[:0]
	e.floats = e.floats[:0]
	e.sent.active = false
}

func (e *Offline) decode() (string, bool) {
	if err := e.stream.Decode(); err != nil {
		e.log.Warn("asr: offline decode failed", "error", err)
		return "", false
	}
	return e.stream.Text(), true
}

// trimTo keeps the last keep float samples (and the matching raw tail),
// shifting both cursors by the discarded count and clamping at zero.
func (e *Offline) trimTo(keep int) {
	drop := len(e.floats) - keep
	e.floats = append(e.floats[:0], e.floats[drop:]...)
	e.raw = append(e.raw[:0], e.raw[drop:]...)
	if e.vadOffset > drop {
		e.vadOffset -= drop
	} else {
		e.vadOffset = 0
	}
	if e.streamedOffset > drop {
		e.streamedOffset -= drop
	} else {
		e.streamedOffset = 0
	}
}

// Finish closes the open sentence, if any, after a final decode.
func (e *Offline) Finish() error {
	if e.sent.active {
		e.finishSentence()
	}
	return nil
}

// Close releases the engine's stream, VAD and recognizer.
func (e *Offline) Close() error {
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.cfg.VAD.Close()
	return e.cfg.Recognizer.Close()
}
