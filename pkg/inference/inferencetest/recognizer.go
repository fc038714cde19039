package inferencetest

import (
	"sync"

	"github.com/haivivi/zasr/pkg/inference"
)

// OfflineRecognizer is a scripted fake: the i-th stream it creates
// recognizes the i-th text (the last text repeats for later streams).
type OfflineRecognizer struct {
	mu      sync.Mutex
	texts   []string
	streams int
	closed  bool
}

var _ inference.OfflineRecognizer = (*OfflineRecognizer)(nil)

// NewOfflineRecognizer returns an offline recognizer scripted with the
// given per-utterance texts.
func NewOfflineRecognizer(texts ...string) *OfflineRecognizer {
	return &OfflineRecognizer{texts: texts}
}

// Streams returns how many streams have been created.
func (r *OfflineRecognizer) Streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

func (r *OfflineRecognizer) NewStream() (inference.OfflineStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := ""
	if len(r.texts) > 0 {
		i := min(r.streams, len(r.texts)-1)
		text = r.texts[i]
	}
	r.streams++
	return &offlineStream{text: text}, nil
}

func (r *OfflineRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type offlineStream struct {
	text    string
	fed     int
	decoded bool
}

func (s *offlineStream) AcceptWaveform(sampleRate int, samples []float32) {
	s.fed += len(samples)
}

func (s *offlineStream) Decode() error {
	s.decoded = true
	return nil
}

func (s *offlineStream) Text() string {
	if !s.decoded || s.fed == 0 {
		return ""
	}
	return s.text
}

func (s *offlineStream) Close() error { return nil }

// Utterance scripts one utterance for the fake online recognizer.
type Utterance struct {
	// Partials are returned by successive decodes before the final text.
	Partials []string

	// Final is the utterance's final text.
	Final string

	// Samples is the cumulative sample count after which the endpoint
	// fires for this utterance.
	Samples int
}

// OnlineRecognizer is a scripted fake incremental recognizer. Each call to
// AcceptWaveform grants one decode credit; Decode advances through the
// current utterance's partial texts toward its final text. The endpoint
// fires once the scripted sample count has been fed.
type OnlineRecognizer struct {
	utterances []Utterance
}

var _ inference.OnlineRecognizer = (*OnlineRecognizer)(nil)

// NewOnlineRecognizer returns an online recognizer scripted with the given
// utterances.
func NewOnlineRecognizer(utterances ...Utterance) *OnlineRecognizer {
	return &OnlineRecognizer{utterances: utterances}
}

func (r *OnlineRecognizer) NewStream() (inference.OnlineStream, error) {
	return &onlineStream{utterances: r.utterances}, nil
}

func (r *OnlineRecognizer) Close() error { return nil }

type onlineStream struct {
	utterances []Utterance

	utt     int
	fed     int
	textIdx int
	credits int
}

func (s *onlineStream) current() Utterance {
	if s.utt < len(s.utterances) {
		return s.utterances[s.utt]
	}
	return Utterance{}
}

func (s *onlineStream) AcceptWaveform(sampleRate int, samples []float32) {
	s.fed += len(samples)
	s.credits++
}

func (s *onlineStream) IsReady() bool {
	return s.credits > 0 && s.textIdx < len(s.current().Partials)+1
}

func (s *onlineStream) Decode() error {
	if s.credits > 0 {
		s.credits--
	}
	if s.textIdx < len(s.current().Partials)+1 {
		s.textIdx++
	}
	return nil
}

func (s *onlineStream) Text() string {
	u := s.current()
	switch {
	case s.textIdx == 0:
		return ""
	case s.textIdx <= len(u.Partials):
		return u.Partials[s.textIdx-1]
	default:
		return u.Final
	}
}

func (s *onlineStream) IsEndpoint() bool {
	u := s.current()
	return u.Samples > 0 && s.fed >= u.Samples
}

func (s *onlineStream) Reset() {
	s.utt++
	s.fed = 0
	s.textIdx = 0
	s.credits = 0
}

func (s *onlineStream) Close() error { return nil }
