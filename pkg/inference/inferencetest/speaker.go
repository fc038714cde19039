package inferencetest

import "github.com/haivivi/zasr/pkg/inference"

// Extractor derives a stable embedding from the audio content: the voiced
// samples (|s| > 0.01) are split into Dim strides and each stride's mean
// absolute amplitude becomes one component. Identical utterances therefore
// produce identical embeddings regardless of surrounding silence, which is
// what the speaker round-trip tests need.
type Extractor struct {
	// DimN is the embedding dimensionality.
	DimN int

	// MinSamples is the minimum voiced sample count; shorter audio
	// reports not-ready (nil embedding).
	MinSamples int
}

var _ inference.EmbeddingExtractor = (*Extractor)(nil)

// NewExtractor returns an extractor producing 8-dimensional embeddings and
// requiring 3200 voiced samples (200 ms at 16 kHz).
func NewExtractor() *Extractor {
	return &Extractor{DimN: 8, MinSamples: 3200}
}

func (e *Extractor) Extract(samples []float32) ([]float32, error) {
	voiced := make([]float32, 0, len(samples))
	for _, s := range samples {
		if s > 0.01 || s < -0.01 {
			voiced = append(voiced, s)
		}
	}
	if len(voiced) < e.MinSamples {
		return nil, nil
	}

	emb := make([]float32, e.DimN)
	stride := len(voiced) / e.DimN
	if stride == 0 {
		stride = 1
	}
	for i := range e.DimN {
		lo := i * stride
		hi := lo + stride
		if lo >= len(voiced) {
			break
		}
		if hi > len(voiced) {
			hi = len(voiced)
		}
		var sum float32
		for _, s := range voiced[lo:hi] {
			if s < 0 {
				s = -s
			}
			sum += s
		}
		emb[i] = sum / float32(hi-lo)
	}
	return emb, nil
}

func (e *Extractor) Dim() int { return e.DimN }

func (e *Extractor) Close() error { return nil }

// Diarizer reports a fixed speaker count, or delegates to CountFunc when
// set.
type Diarizer struct {
	Count     int
	CountFunc func(samples []float32) int
}

var _ inference.Diarizer = (*Diarizer)(nil)

func (d *Diarizer) NumSpeakers(samples []float32) (int, error) {
	if d.CountFunc != nil {
		return d.CountFunc(samples), nil
	}
	return d.Count, nil
}

func (d *Diarizer) Close() error { return nil }

// Punctuator appends a period to unpunctuated text.
type Punctuator struct {
	// Err, when set, is returned from every Punctuate call.
	Err error
}

var _ inference.Punctuator = (*Punctuator)(nil)

func (p *Punctuator) Punctuate(text string) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	if text == "" {
		return text, nil
	}
	switch text[len(text)-1] {
	case '.', '!', '?', ',', ';':
		return text, nil
	}
	return text + ".", nil
}

func (p *Punctuator) Close() error { return nil }
