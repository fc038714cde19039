package inferencetest

import "github.com/haivivi/zasr/pkg/inference"

// VAD is an energy-based fake voice-activity detector. A window counts as
// speech when its mean absolute amplitude exceeds SpeechThreshold. Speech
// becomes active after SpeechWindows consecutive speech windows; an active
// segment completes after SilenceWindows consecutive silence windows.
type VAD struct {
	// SpeechThreshold is the mean absolute amplitude above which a window
	// counts as speech.
	SpeechThreshold float32

	// SpeechWindows is how many consecutive speech windows activate
	// detection.
	SpeechWindows int

	// SilenceWindows is how many consecutive silence windows complete an
	// active segment.
	SilenceWindows int

	active     bool
	speechRun  int
	silenceRun int
	segments   int
}

var _ inference.VoiceDetector = (*VAD)(nil)

// NewVAD returns a VAD with the default thresholds: one speech window
// activates, two silence windows complete a segment.
func NewVAD() *VAD {
	return &VAD{
		SpeechThreshold: 0.05,
		SpeechWindows:   1,
		SilenceWindows:  2,
	}
}

func (v *VAD) AcceptWaveform(samples []float32) {
	var sum float32
	for _, s := range samples {
		if s < 0 {
			sum -= s
		} else {
			sum += s
		}
	}
	speech := len(samples) > 0 && sum/float32(len(samples)) > v.SpeechThreshold

	if speech {
		v.speechRun++
		v.silenceRun = 0
		if !v.active && v.speechRun >= v.SpeechWindows {
			v.active = true
		}
		return
	}

	v.speechRun = 0
	if v.active {
		v.silenceRun++
		if v.silenceRun >= v.SilenceWindows {
			v.active = false
			v.silenceRun = 0
			v.segments++
		}
	}
}

func (v *VAD) IsDetected() bool { return v.active }

func (v *VAD) IsEmpty() bool { return v.segments == 0 }

func (v *VAD) Pop() {
	if v.segments > 0 {
		v.segments--
	}
}

func (v *VAD) Close() error { return nil }
