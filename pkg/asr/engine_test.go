package asr

import (
	"testing"
	"time"

	"github.com/haivivi/zasr/pkg/inference/inferencetest"
)

const window = 480 // 30ms at 16kHz

type event struct {
	kind    string
	index   int
	timeMS  int64
	beginMS int64
	text    string
	speaker *Speaker
}

// recorder captures emitted events for assertions.
type recorder struct {
	events []event
}

func (r *recorder) SentenceBegin(index int, timeMS int64) {
	r.events = append(r.events, event{kind: "begin", index: index, timeMS: timeMS})
}

func (r *recorder) Result(index int, timeMS int64, text string) {
	r.events = append(r.events, event{kind: "result", index: index, timeMS: timeMS, text: text})
}

func (r *recorder) SentenceEnd(index int, timeMS, beginMS int64, text string, speaker *Speaker) {
	r.events = append(r.events, event{kind: "end", index: index, timeMS: timeMS, beginMS: beginMS, text: text, speaker: speaker})
}

// checkOrder verifies the per-session event invariant: for each sentence
// i, begin(i) precedes all result(i) which precede end(i), and indices
// increase by one starting at 1.
func checkOrder(t *testing.T, events []event) {
	t.Helper()
	open := 0
	for _, ev := range events {
		switch ev.kind {
		case "begin":
			if open != 0 {
				t.Fatalf("SentenceBegin(%d) while sentence %d open", ev.index, open)
			}
			open = ev.index
		case "result":
			if ev.index != open {
				t.Fatalf("Result(%d) outside its sentence (open=%d)", ev.index, open)
			}
		case "end":
			if ev.index != open {
				t.Fatalf("SentenceEnd(%d) without matching begin (open=%d)", ev.index, open)
			}
			if ev.beginMS > ev.timeMS {
				t.Fatalf("SentenceEnd(%d): begin %d > time %d", ev.index, ev.beginMS, ev.timeMS)
			}
			open = 0
		}
	}
	last := 0
	for _, ev := range events {
		if ev.kind != "begin" {
			continue
		}
		if ev.index != last+1 {
			t.Fatalf("sentence index %d follows %d", ev.index, last)
		}
		last = ev.index
	}
}

func silence(n int) []int16 { return make([]int16, n) }

func speech(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		if i%2 == 0 {
			s[i] = 8000
		} else {
			s[i] = -8000
		}
	}
	return s
}

type fixedIdentifier struct{ spk Speaker }

func (f fixedIdentifier) Identify(samples []int16) (Speaker, bool) { return f.spk, true }

func newOfflineEngine(t *testing.T, rec *recorder, cfg OfflineConfig) *Offline {
	t.Helper()
	if cfg.Recognizer == nil {
		cfg.Recognizer = inferencetest.NewOfflineRecognizer("hello world")
	}
	if cfg.VAD == nil {
		cfg.VAD = inferencetest.NewVAD()
	}
	cfg.WindowSize = window
	cfg.UpdateInterval = time.Nanosecond
	e, err := NewOffline(cfg, rec)
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}
	return e
}

func TestOffline_SingleUtterance(t *testing.T) {
	rec := &recorder{}
	e := newOfflineEngine(t, rec, OfflineConfig{})

	// silence, speech, trailing silence: exactly one sentence.
	if err := e.Ingest(silence(2 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(speech(10 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(silence(3 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}

	checkOrder(t, rec.events)

	var begins, results, ends int
	for _, ev := range rec.events {
		switch ev.kind {
		case "begin":
			begins++
		case "result":
			results++
		case "end":
			ends++
			if ev.text != "hello world" {
				t.Fatalf("SentenceEnd text = %q, want %q", ev.text, "hello world")
			}
		}
	}
	if begins != 1 || ends != 1 {
		t.Fatalf("begins=%d ends=%d, want 1/1", begins, ends)
	}
	if results < 1 {
		t.Fatal("no intermediate Result emitted")
	}
}

func TestOffline_TwoUtterances(t *testing.T) {
	rec := &recorder{}
	e := newOfflineEngine(t, rec, OfflineConfig{
		Recognizer: inferencetest.NewOfflineRecognizer("first", "second"),
	})

	for range 2 {
		if err := e.Ingest(speech(8 * window)); err != nil {
			t.Fatal(err)
		}
		if err := e.Ingest(silence(3 * window)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}

	checkOrder(t, rec.events)

	var ends []event
	for _, ev := range rec.events {
		if ev.kind == "end" {
			ends = append(ends, ev)
		}
	}
	if len(ends) != 2 {
		t.Fatalf("ends = %d, want 2", len(ends))
	}
	if ends[0].text != "first" || ends[1].text != "second" {
		t.Fatalf("end texts = %q, %q", ends[0].text, ends[1].text)
	}
	if ends[0].index != 1 || ends[1].index != 2 {
		t.Fatalf("end indices = %d, %d", ends[0].index, ends[1].index)
	}
}

func TestOffline_IdleTrimKeepsPipelineConsistent(t *testing.T) {
	rec := &recorder{}
	e := newOfflineEngine(t, rec, OfflineConfig{})

	// Far more than 10 windows of silence forces the idle trim.
	for range 5 {
		if err := e.Ingest(silence(6 * window)); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.events) != 0 {
		t.Fatalf("silence produced events: %+v", rec.events)
	}

	if err := e.Ingest(speech(8 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(silence(3 * window)); err != nil {
		t.Fatal(err)
	}
	checkOrder(t, rec.events)
	if rec.events[0].kind != "begin" || rec.events[0].index != 1 {
		t.Fatalf("first event = %+v, want SentenceBegin(1)", rec.events[0])
	}
	if last := rec.events[len(rec.events)-1]; last.kind != "end" {
		t.Fatalf("last event = %+v, want SentenceEnd", last)
	}
}

func TestOffline_PunctuationAndSpeaker(t *testing.T) {
	rec := &recorder{}
	e := newOfflineEngine(t, rec, OfflineConfig{
		Punctuator: &inferencetest.Punctuator{},
		Identifier: fixedIdentifier{Speaker{ID: "speaker-001", Name: "Alice", Confidence: 0.75}},
	})

	if err := e.Ingest(speech(8 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Ingest(silence(3 * window)); err != nil {
		t.Fatal(err)
	}

	var end *event
	for i := range rec.events {
		if rec.events[i].kind == "end" {
			end = &rec.events[i]
		}
	}
	if end == nil {
		t.Fatal("no SentenceEnd")
	}
	if end.text != "hello world." {
		t.Fatalf("punctuated text = %q, want %q", end.text, "hello world.")
	}
	if end.speaker == nil || end.speaker.ID != "speaker-001" || end.speaker.Name != "Alice" {
		t.Fatalf("speaker = %+v", end.speaker)
	}

	// Intermediate results stay unpunctuated.
	for _, ev := range rec.events {
		if ev.kind == "result" && ev.text != "hello world" {
			t.Fatalf("Result text = %q, want raw %q", ev.text, "hello world")
		}
	}
}

func TestOffline_FinishClosesActiveSentence(t *testing.T) {
	rec := &recorder{}
	e := newOfflineEngine(t, rec, OfflineConfig{})

	// Speech with no trailing silence: the VAD never closes the segment.
	if err := e.Ingest(speech(8 * window)); err != nil {
		t.Fatal(err)
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
	checkOrder(t, rec.events)
	last := rec.events[len(rec.events)-1]
	if last.kind != "end" || last.index != 1 {
		t.Fatalf("last event = %+v, want SentenceEnd(1)", last)
	}

	// Finish is idempotent.
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}
	if rec.events[len(rec.events)-1] != last {
		t.Fatal("second Finish emitted more events")
	}
}

func TestOnline_TwoUtterances(t *testing.T) {
	rec := &recorder{}
	recognizer := inferencetest.NewOnlineRecognizer(
		inferencetest.Utterance{Partials: []string{"he", "hello"}, Final: "hello world", Samples: 3200},
		inferencetest.Utterance{Final: "bye", Samples: 3200},
	)
	e, err := NewOnline(OnlineConfig{Recognizer: recognizer}, rec)
	if err != nil {
		t.Fatalf("NewOnline: %v", err)
	}

	for range 4 {
		if err := e.Ingest(speech(1600)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Finish(); err != nil {
		t.Fatal(err)
	}

	checkOrder(t, rec.events)

	var ends []event
	for _, ev := range rec.events {
		if ev.kind == "end" {
			ends = append(ends, ev)
		}
	}
	// Utterances 1 and 2 end on endpoints; Finish closes the third,
	// empty sentence opened after the second endpoint.
	if len(ends) != 3 {
		t.Fatalf("ends = %d, want 3: %+v", len(ends), rec.events)
	}
	if ends[0].text != "hello world" || ends[1].text != "bye" || ends[2].text != "" {
		t.Fatalf("end texts = %q, %q, %q", ends[0].text, ends[1].text, ends[2].text)
	}
	if ends[0].beginMS != 0 || ends[0].timeMS != 200 {
		t.Fatalf("first utterance times = begin %d, time %d", ends[0].beginMS, ends[0].timeMS)
	}
}

func TestOnline_ResultOnlyOnChange(t *testing.T) {
	rec := &recorder{}
	recognizer := inferencetest.NewOnlineRecognizer(
		inferencetest.Utterance{Partials: []string{"same", "same", "same"}, Final: "same", Samples: 0},
	)
	e, err := NewOnline(OnlineConfig{Recognizer: recognizer}, rec)
	if err != nil {
		t.Fatalf("NewOnline: %v", err)
	}

	for range 4 {
		if err := e.Ingest(speech(160)); err != nil {
			t.Fatal(err)
		}
	}

	results := 0
	for _, ev := range rec.events {
		if ev.kind == "result" {
			results++
		}
	}
	if results != 1 {
		t.Fatalf("results = %d, want 1 (unchanged text must not re-emit)", results)
	}
}

func TestOnline_SpeakerAttribution(t *testing.T) {
	rec := &recorder{}
	recognizer := inferencetest.NewOnlineRecognizer(
		inferencetest.Utterance{Final: "hi", Samples: 1600},
	)
	e, err := NewOnline(OnlineConfig{
		Recognizer: recognizer,
		Identifier: fixedIdentifier{Speaker{ID: "unknown-001", Name: "unknown-001", Confidence: 0.75}},
	}, rec)
	if err != nil {
		t.Fatalf("NewOnline: %v", err)
	}

	if err := e.Ingest(speech(1600)); err != nil {
		t.Fatal(err)
	}

	var end *event
	for i := range rec.events {
		if rec.events[i].kind == "end" {
			end = &rec.events[i]
		}
	}
	if end == nil {
		t.Fatal("no SentenceEnd after endpoint")
	}
	if end.speaker == nil || end.speaker.ID != "unknown-001" {
		t.Fatalf("speaker = %+v", end.speaker)
	}
}
