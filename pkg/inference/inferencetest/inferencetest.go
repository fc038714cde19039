// Package inferencetest provides scripted in-memory implementations of the
// inference capability surface for tests.
//
// The fakes are deterministic and cheap: the voice detector classifies
// windows by signal energy, recognizers return scripted texts, and the
// embedding extractor derives a stable vector from the audio content so
// that identical utterances produce identical embeddings.
package inferencetest

import (
	"github.com/haivivi/zasr/pkg/inference"
)

// Toolkit implements inference.Toolkit with scripted fakes. Zero value is
// usable; set the hook fields to customize what the constructors return.
type Toolkit struct {
	// OfflineTexts scripts the offline recognizer: stream i returns text i
	// (the last text repeats). Ignored when NewOfflineFunc is set.
	OfflineTexts []string

	// Utterances scripts the online recognizer. Ignored when
	// NewOnlineFunc is set.
	Utterances []Utterance

	NewOfflineFunc    func(cfg inference.OfflineRecognizerConfig) (inference.OfflineRecognizer, error)
	NewOnlineFunc     func(cfg inference.OnlineRecognizerConfig) (inference.OnlineRecognizer, error)
	NewVADFunc        func(cfg inference.VADConfig) (inference.VoiceDetector, error)
	NewExtractorFunc  func(cfg inference.SpeakerEmbeddingConfig) (inference.EmbeddingExtractor, error)
	NewDiarizerFunc   func(cfg inference.DiarizationConfig) (inference.Diarizer, error)
	NewPunctuatorFunc func(cfg inference.PunctuationConfig) (inference.Punctuator, error)
}

var _ inference.Toolkit = (*Toolkit)(nil)

func (t *Toolkit) NewOfflineRecognizer(cfg inference.OfflineRecognizerConfig) (inference.OfflineRecognizer, error) {
	if t.NewOfflineFunc != nil {
		return t.NewOfflineFunc(cfg)
	}
	return NewOfflineRecognizer(t.OfflineTexts...), nil
}

func (t *Toolkit) NewOnlineRecognizer(cfg inference.OnlineRecognizerConfig) (inference.OnlineRecognizer, error) {
	if t.NewOnlineFunc != nil {
		return t.NewOnlineFunc(cfg)
	}
	return NewOnlineRecognizer(t.Utterances...), nil
}

func (t *Toolkit) NewVoiceDetector(cfg inference.VADConfig) (inference.VoiceDetector, error) {
	if t.NewVADFunc != nil {
		return t.NewVADFunc(cfg)
	}
	return NewVAD(), nil
}

func (t *Toolkit) NewEmbeddingExtractor(cfg inference.SpeakerEmbeddingConfig) (inference.EmbeddingExtractor, error) {
	if t.NewExtractorFunc != nil {
		return t.NewExtractorFunc(cfg)
	}
	return NewExtractor(), nil
}

func (t *Toolkit) NewDiarizer(cfg inference.DiarizationConfig) (inference.Diarizer, error) {
	if t.NewDiarizerFunc != nil {
		return t.NewDiarizerFunc(cfg)
	}
	return &Diarizer{Count: 1}, nil
}

func (t *Toolkit) NewPunctuator(cfg inference.PunctuationConfig) (inference.Punctuator, error) {
	if t.NewPunctuatorFunc != nil {
		return t.NewPunctuatorFunc(cfg)
	}
	return &Punctuator{}, nil
}
