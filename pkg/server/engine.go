package server

import (
	"fmt"
	"time"

	"github.com/haivivi/zasr/pkg/asr"
	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/config"
	"github.com/haivivi/zasr/pkg/inference"
)

// Endpoint rule defaults for the streaming engines (seconds).
const (
	endpointRule1TrailingSilence = 1.2
	endpointRule2TrailingSilence = 0.8
	endpointRule3MinUtterance    = 0.01
)

// buildEngine constructs the per-session recognition engine for the
// configured mode. itn and silenceMS come from the client's Begin
// payload; silenceMS overrides the VAD minimum silence only when greater
// than 50.
func (s *Session) buildEngine(itn bool, silenceMS int) (asr.Engine, error) {
	if s.cfg.Recognizer.Streaming() {
		return s.buildOnline()
	}
	return s.buildOffline(itn, silenceMS)
}

func (s *Session) buildOnline() (asr.Engine, error) {
	rc := &s.cfg.Recognizer
	oc := inference.OnlineRecognizerConfig{
		NumThreads:              rc.NumThreads,
		Provider:                rc.Provider,
		EnableEndpoint:          true,
		Rule1MinTrailingSilence: endpointRule1TrailingSilence,
		Rule2MinTrailingSilence: endpointRule2TrailingSilence,
		Rule3MinUtteranceLength: endpointRule3MinUtterance,
	}
	switch rc.Mode {
	case config.ModeStreamingZipformer:
		oc.Encoder = rc.Zipformer.Encoder
		oc.Decoder = rc.Zipformer.Decoder
		oc.Joiner = rc.Zipformer.Joiner
		oc.Tokens = rc.Zipformer.Tokens
		oc.FeatureDim = rc.Zipformer.FeatureDim
	case config.ModeStreamingParaformer:
		oc.Encoder = rc.Paraformer.Encoder
		oc.Decoder = rc.Paraformer.Decoder
		oc.Tokens = rc.Paraformer.Tokens
	default:
		return nil, fmt.Errorf("server: mode %q is not streaming", rc.Mode)
	}
	if oc.FeatureDim == 0 {
		oc.FeatureDim = 80
	}

	recognizer, err := s.tk.NewOnlineRecognizer(oc)
	if err != nil {
		return nil, fmt.Errorf("server: create online recognizer: %w", err)
	}
	return asr.NewOnline(asr.OnlineConfig{
		Recognizer: recognizer,
		Punctuator: s.punctuator,
		Identifier: s.identifier,
		Logger:     s.log,
	}, s)
}

func (s *Session) buildOffline(itn bool, silenceMS int) (asr.Engine, error) {
	vc := &s.cfg.VAD
	minSilence := float32(vc.MinSilenceMS) / 1000
	if silenceMS > 50 {
		minSilence = float32(silenceMS) / 1000
	}
	vad, err := s.tk.NewVoiceDetector(inference.VADConfig{
		Model:              vc.Model,
		Threshold:          vc.Threshold,
		MinSilenceDuration: minSilence,
		MinSpeechDuration:  float32(vc.MinSpeechMS) / 1000,
		MaxSpeechDuration:  float32(vc.MaxSpeechMS) / 1000,
		SampleRate:         s.cfg.SampleRate,
		NumThreads:         s.cfg.Recognizer.NumThreads,
		Provider:           s.cfg.Recognizer.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("server: create VAD: %w", err)
	}

	rc := &s.cfg.Recognizer
	recognizer, err := s.tk.NewOfflineRecognizer(inference.OfflineRecognizerConfig{
		ModelType:  "sense_voice",
		Model:      rc.SenseVoice.Model,
		Tokens:     rc.SenseVoice.Tokens,
		UseITN:     itn,
		NumThreads: rc.NumThreads,
		Provider:   rc.Provider,
	})
	if err != nil {
		vad.Close()
		return nil, fmt.Errorf("server: create offline recognizer: %w", err)
	}

	return asr.NewOffline(asr.OfflineConfig{
		Recognizer:     recognizer,
		VAD:            vad,
		WindowSize:     vc.WindowMS * audio.SamplesPerMS,
		Punctuator:     s.punctuator,
		Identifier:     s.identifier,
		UpdateInterval: time.Duration(s.cfg.UpdateIntervalMS) * time.Millisecond,
		Logger:         s.log,
	}, s)
}
