package voiceprint

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/inference/inferencetest"
)

// toneSamples returns a deterministic voiced signal long enough for the
// fake extractor.
func toneSamples(n int, amp int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amp
		} else {
			samples[i] = -amp
		}
	}
	return samples
}

func newTestIdentifier(t *testing.T, cfg IdentifierConfig, diarizer *inferencetest.Diarizer) *Identifier {
	t.Helper()
	catalog, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open catalog: %v", err)
	}
	extractor := inferencetest.NewExtractor()
	var id *Identifier
	if diarizer != nil {
		id, err = NewIdentifier(cfg, extractor, NewManager(extractor.Dim()), diarizer, catalog, nil)
	} else {
		id, err = NewIdentifier(cfg, extractor, NewManager(extractor.Dim()), nil, catalog, nil)
	}
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}
	return id
}

func TestIdentifier_AutoTrackAndRematch(t *testing.T) {
	id := newTestIdentifier(t, IdentifierConfig{AutoTrack: true}, nil)

	utterance := toneSamples(8000, 8000)

	res, ok := id.ProcessSegment(utterance)
	if !ok {
		t.Fatal("ProcessSegment found no identity with auto-track on")
	}
	if !res.IsNew || res.SpeakerID != "unknown-001" {
		t.Fatalf("first observation = %+v, want new unknown-001", res)
	}

	// The same voice again matches the tracked unknown.
	res2, ok := id.ProcessSegment(utterance)
	if !ok {
		t.Fatal("re-observation found no identity")
	}
	if res2.IsNew || res2.SpeakerID != "unknown-001" {
		t.Fatalf("re-observation = %+v, want existing unknown-001", res2)
	}

	us := id.Catalog().Unknowns()
	if len(us) != 1 || us[0].OccurrenceCount != 2 {
		t.Fatalf("unknown records = %+v, want one with 2 occurrences", us)
	}
}

func TestIdentifier_TooShortAudio(t *testing.T) {
	id := newTestIdentifier(t, IdentifierConfig{AutoTrack: true}, nil)
	if _, ok := id.ProcessSegment(toneSamples(100, 8000)); ok {
		t.Fatal("ProcessSegment identified a too-short utterance")
	}
	if len(id.Catalog().Unknowns()) != 0 {
		t.Fatal("too-short utterance was auto-tracked")
	}
}

func TestIdentifier_NoAutoTrack(t *testing.T) {
	id := newTestIdentifier(t, IdentifierConfig{AutoTrack: false}, nil)
	if _, ok := id.ProcessSegment(toneSamples(8000, 8000)); ok {
		t.Fatal("ProcessSegment identified with an empty catalog and auto-track off")
	}
	if len(id.Catalog().Unknowns()) != 0 {
		t.Fatal("auto-track off still registered an unknown")
	}
}

func TestIdentifier_AddSpeakerAndMatch(t *testing.T) {
	id := newTestIdentifier(t, IdentifierConfig{}, &inferencetest.Diarizer{Count: 1})

	utterance := toneSamples(8000, 6000)
	wav := filepath.Join(t.TempDir(), "alice.wav")
	if err := audio.WriteWAVFile(wav, utterance, audio.SampleRate); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	speakerID, err := id.AddSpeaker("Alice", []string{wav}, false)
	if err != nil {
		t.Fatalf("AddSpeaker: %v", err)
	}
	if speakerID != "speaker-001" {
		t.Fatalf("AddSpeaker id = %q, want speaker-001", speakerID)
	}

	rec, ok := id.Catalog().Get(speakerID)
	if !ok {
		t.Fatal("enrolled speaker missing from catalog")
	}
	if rec.Name != "Alice" || rec.NumSamples != 1 || len(rec.AudioSamples) != 1 {
		t.Fatalf("record = %+v", rec)
	}

	// The reference utterance identifies as the enrolled speaker.
	res, ok := id.ProcessSegment(utterance)
	if !ok {
		t.Fatal("ProcessSegment did not identify the enrolled voice")
	}
	if res.SpeakerID != speakerID || res.SpeakerName != "Alice" || res.IsNew {
		t.Fatalf("identification = %+v", res)
	}

	emb := id.Extract(utterance)
	if emb == nil {
		t.Fatal("Extract returned nil for the reference utterance")
	}
	if !id.Verify(speakerID, emb) {
		t.Fatal("Verify rejected the reference utterance")
	}
}

func TestIdentifier_AddSpeakerRejectsMultipleSpeakers(t *testing.T) {
	id := newTestIdentifier(t, IdentifierConfig{}, &inferencetest.Diarizer{Count: 2})

	wav := filepath.Join(t.TempDir(), "mixed.wav")
	if err := audio.WriteWAVFile(wav, toneSamples(8000, 6000), audio.SampleRate); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	if _, err := id.AddSpeaker("Mixed", []string{wav}, false); !errors.Is(err, ErrMultipleSpeakers) {
		t.Fatalf("AddSpeaker = %v, want ErrMultipleSpeakers", err)
	}

	// force bypasses the pre-validation.
	if _, err := id.AddSpeaker("Mixed", []string{wav}, true); err != nil {
		t.Fatalf("AddSpeaker with force: %v", err)
	}
}

func TestIdentifier_ReloadKeepsSpeakers(t *testing.T) {
	dir := t.TempDir()
	catalog, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	extractor := inferencetest.NewExtractor()
	id, err := NewIdentifier(IdentifierConfig{}, extractor, NewManager(extractor.Dim()), nil, catalog, nil)
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}

	utterance := toneSamples(8000, 5000)
	wav := filepath.Join(t.TempDir(), "bob.wav")
	if err := audio.WriteWAVFile(wav, utterance, audio.SampleRate); err != nil {
		t.Fatal(err)
	}
	speakerID, err := id.AddSpeaker("Bob", []string{wav}, true)
	if err != nil {
		t.Fatalf("AddSpeaker: %v", err)
	}

	// A fresh identifier over the same catalog matches without re-enrolling.
	catalog2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	id2, err := NewIdentifier(IdentifierConfig{}, extractor, NewManager(extractor.Dim()), nil, catalog2, nil)
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}
	res, ok := id2.ProcessSegment(utterance)
	if !ok || res.SpeakerID != speakerID {
		t.Fatalf("after reload: %+v, %v; want %s", res, ok, speakerID)
	}
}
