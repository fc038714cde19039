package asr

import (
	"fmt"
	"log/slog"

	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/inference"
)

// OnlineConfig assembles an [Online] engine.
type OnlineConfig struct {
	// Recognizer decodes incrementally with built-in endpointing. Owned
	// by the engine.
	Recognizer inference.OnlineRecognizer

	// Punctuator is optional and may be shared across sessions.
	Punctuator inference.Punctuator

	// Identifier is optional and may be shared across sessions.
	Identifier Identifier

	Logger *slog.Logger
}

// Online is the streaming-mode engine: one decoder stream lives for the
// whole session and its endpoint rules close utterances. Raw samples for
// the current sentence are accumulated so the speaker identifier can run
// over exactly the utterance audio.
type Online struct {
	cfg OnlineConfig
	log *slog.Logger

	stream inference.OnlineStream

	sentenceAudio []int16
	totalSamples  int64

	sent     sentence
	counter  int
	lastText string

	emitter Emitter
}

var _ Engine = (*Online)(nil)

// NewOnline creates a streaming-mode engine emitting to emitter.
func NewOnline(cfg OnlineConfig, emitter Emitter) (*Online, error) {
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("asr: online engine needs a recognizer")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Online{cfg: cfg, log: log, emitter: emitter}, nil
}

// Ingest feeds newly arrived samples to the decoder stream, emitting
// Result on text changes and closing the sentence when the endpoint
// fires.
func (e *Online) Ingest(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if e.stream == nil {
		stream, err := e.cfg.Recognizer.NewStream()
		if err != nil {
			return fmt.Errorf("asr: create online stream: %w", err)
		}
		e.stream = stream
		e.startSentence()
	}

	e.totalSamples += int64(len(samples))
	e.stream.AcceptWaveform(audio.SampleRate, audio.FloatFromInt16(samples))
	e.sentenceAudio = append(e.sentenceAudio, samples...)

	for e.stream.IsReady() {
		if err := e.stream.Decode(); err != nil {
			e.log.Warn("asr: online decode failed", "error", err)
			break
		}
	}
	if text := e.stream.Text(); text != "" && text != e.lastText {
		e.lastText = text
		e.sent.text = text
		e.emitter.Result(e.sent.index, audio.SamplesToMS(e.totalSamples), text)
	}

	if e.stream.IsEndpoint() {
		e.finishSentence(true)
	}
	return nil
}

func (e *Online) startSentence() {
	e.counter++
	beginMS := audio.SamplesToMS(e.totalSamples)
	e.sent = sentence{index: e.counter, beginMS: beginMS, active: true}
	e.lastText = ""
	e.emitter.SentenceBegin(e.counter, beginMS)
}

// finishSentence emits the final result for the open utterance, resets
// the decoder stream in place, and — when the session continues — opens
// the next sentence immediately.
func (e *Online) finishSentence(next bool) {
	if !e.sent.active {
		return
	}
	if err := e.stream.Decode(); err != nil {
		e.log.Warn("asr: final decode failed", "error", err)
	}
	if text := e.stream.Text(); text != "" {
		e.sent.text = text
	}
	final := punctuate(e.cfg.Punctuator, e.sent.text, e.log)
	speaker := identify(e.cfg.Identifier, e.sentenceAudio)
	e.emitter.SentenceEnd(e.sent.index, audio.SamplesToMS(e.totalSamples), e.sent.beginMS, final, speaker)

	e.stream.Reset()
	e.sentenceAudio = e.sentenceAudio[:0]
	e.sent.active = false
	e.lastText = ""

	if next {
		e.startSentence()
	}
}

// Finish closes the open sentence without starting another.
func (e *Online) Finish() error {
	if e.stream != nil && e.sent.active {
		e.finishSentence(false)
	}
	return nil
}

// Close releases the stream and recognizer.
func (e *Online) Close() error {
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	return e.cfg.Recognizer.Close()
}
