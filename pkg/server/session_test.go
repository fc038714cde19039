package server

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/config"
	"github.com/haivivi/zasr/pkg/inference/inferencetest"
	"github.com/haivivi/zasr/pkg/voiceprint"
)

// fakeLink records outbound frames instead of writing a socket.
type fakeLink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reason string
}

func (f *fakeLink) SendText(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
}

func (f *fakeLink) CloseNormal(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.reason = reason
	}
}

type recordedFrame struct {
	Header  Header         `json:"header"`
	Payload map[string]any `json:"payload"`
}

func (f *fakeLink) recorded(t *testing.T) []recordedFrame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedFrame, 0, len(f.frames))
	for _, raw := range f.frames {
		var fr recordedFrame
		if err := json.Unmarshal(raw, &fr); err != nil {
			t.Fatalf("bad outbound frame %q: %v", raw, err)
		}
		out = append(out, fr)
	}
	return out
}

func (f *fakeLink) lastFrame(t *testing.T) recordedFrame {
	t.Helper()
	frames := f.recorded(t)
	if len(frames) == 0 {
		t.Fatal("no outbound frames")
	}
	return frames[len(frames)-1]
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.UpdateIntervalMS = 1
	return cfg
}

func newTestSession(cfg *config.Config, tk *inferencetest.Toolkit) (*Session, *fakeLink) {
	link := &fakeLink{}
	sess := newSession(cfg, tk, nil, nil, link, slog.New(slog.DiscardHandler))
	return sess, link
}

const beginFrame = `{"header":{"name":"Begin"},"payload":{"fmt":"pcm","rate":16000}}`
const endFrame = `{"header":{"name":"End"}}`

func sendPCM(sess *Session, samples []int16) {
	sess.HandleBinary(audio.BytesFromInt16(samples))
}

func silencePCM(n int) []int16 { return make([]int16, n) }

func speechPCM(n int) []int16 {
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

const win = 480 // 30ms VAD window at 16kHz

func TestSession_HappyPathSegmented(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{
		OfflineTexts: []string{"hello world"},
	})

	sess.HandleText([]byte(beginFrame))

	frames := link.recorded(t)
	if len(frames) != 1 || frames[0].Header.Name != "Started" {
		t.Fatalf("after Begin: %+v", frames)
	}
	if frames[0].Header.Status != StatusSuccess {
		t.Fatalf("Started status = %d", frames[0].Header.Status)
	}
	if sid, _ := frames[0].Payload["sid"].(string); sid == "" {
		t.Fatal("Started carries empty sid")
	}
	if frames[0].Header.MessageID == "" {
		t.Fatal("Started carries empty mid")
	}

	sendPCM(sess, silencePCM(2*win))
	time.Sleep(2 * time.Millisecond)
	sendPCM(sess, speechPCM(10*win))
	time.Sleep(2 * time.Millisecond)
	sendPCM(sess, silencePCM(3*win))

	sess.HandleText([]byte(endFrame))

	var names []string
	var begin, end, result *recordedFrame
	for _, fr := range link.recorded(t) {
		fr := fr
		names = append(names, fr.Header.Name)
		switch fr.Header.Name {
		case "SentenceBegin":
			begin = &fr
		case "Result":
			if result == nil {
				result = &fr
			}
		case "SentenceEnd":
			end = &fr
		}
	}

	if begin == nil || end == nil || result == nil {
		t.Fatalf("missing events, got %v", names)
	}
	if idx := begin.Payload["idx"].(float64); idx != 1 {
		t.Fatalf("SentenceBegin idx = %v", idx)
	}
	if idx := end.Payload["idx"].(float64); idx != 1 {
		t.Fatalf("SentenceEnd idx = %v", idx)
	}
	if end.Payload["text"].(string) != "hello world" {
		t.Fatalf("SentenceEnd text = %v", end.Payload["text"])
	}
	if b, tm := end.Payload["begin"].(float64), end.Payload["time"].(float64); b > tm {
		t.Fatalf("SentenceEnd begin %v > time %v", b, tm)
	}
	if names[len(names)-1] != "Completed" {
		t.Fatalf("last event = %s, want Completed", names[len(names)-1])
	}

	if !link.closed || link.reason != "Transcription completed" {
		t.Fatalf("link closed=%v reason=%q", link.closed, link.reason)
	}
	if sess.State() != StateClosed {
		t.Fatalf("state = %v, want closed", sess.State())
	}
}

func TestSession_BadSampleRateThenRecover(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})

	sess.HandleText([]byte(`{"header":{"name":"Begin"},"payload":{"fmt":"pcm","rate":8000}}`))

	fr := link.lastFrame(t)
	if fr.Header.Name != "Failed" || fr.Header.Status != int(CodeUnsupportedSampleRate) {
		t.Fatalf("frame = %+v, want Failed 1003", fr.Header)
	}
	if sess.State() != StateConnected {
		t.Fatalf("state = %v, want connected", sess.State())
	}

	// A subsequent valid Begin succeeds.
	sess.HandleText([]byte(beginFrame))
	if fr := link.lastFrame(t); fr.Header.Name != "Started" {
		t.Fatalf("after retry: %+v", fr.Header)
	}
}

func TestSession_BadFormat(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(`{"header":{"name":"Begin"},"payload":{"fmt":"opus","rate":16000}}`))
	if fr := link.lastFrame(t); fr.Header.Status != int(CodeUnsupportedFormat) {
		t.Fatalf("status = %d, want 1002", fr.Header.Status)
	}
}

func TestSession_BinaryBeforeBegin(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleBinary(make([]byte, 320))

	fr := link.lastFrame(t)
	if fr.Header.Name != "Failed" || fr.Header.Status != int(CodeWrongState) {
		t.Fatalf("frame = %+v, want Failed 1006", fr.Header)
	}
}

func TestSession_MalformedJSON(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(`{`))

	fr := link.lastFrame(t)
	if fr.Header.Name != "Failed" || fr.Header.Status != int(CodeInvalidJSON) {
		t.Fatalf("frame = %+v, want Failed 2001", fr.Header)
	}
}

func TestSession_HeaderErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Code
	}{
		{"no header", `{"payload":{}}`, CodeInvalidHeader},
		{"header wrong type", `{"header":"Begin"}`, CodeInvalidHeader},
		{"no name", `{"header":{}}`, CodeMissingName},
		{"unknown name", `{"header":{"name":"Pause"}}`, CodeUnsupportedName},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
			sess.HandleText([]byte(c.text))
			fr := link.lastFrame(t)
			if fr.Header.Name != "Failed" || fr.Header.Status != int(c.want) {
				t.Fatalf("frame = %+v, want Failed %d", fr.Header, c.want)
			}
		})
	}
}

func TestSession_BeginTwice(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(beginFrame))
	sess.HandleText([]byte(beginFrame))

	fr := link.lastFrame(t)
	if fr.Header.Status != int(CodeInvalidStateForStart) {
		t.Fatalf("status = %d, want 1001", fr.Header.Status)
	}
}

func TestSession_EndBeforeBegin(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(endFrame))

	fr := link.lastFrame(t)
	if fr.Header.Status != int(CodeNotStarted) {
		t.Fatalf("status = %d, want 1005", fr.Header.Status)
	}
	if link.closed {
		t.Fatal("End before Begin closed the channel")
	}
}

func TestSession_ClientSessionIDHonored(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(`{"header":{"name":"Begin"},"payload":{"fmt":"pcm","rate":16000,"session_id":"my-session"}}`))

	fr := link.lastFrame(t)
	if sid := fr.Payload["sid"].(string); sid != "my-session" {
		t.Fatalf("sid = %q, want my-session", sid)
	}
	if sess.ID() != "my-session" {
		t.Fatalf("session id = %q", sess.ID())
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.HandleText([]byte(beginFrame))

	sess.Close("Connection timeout")
	framesAfterFirst := len(link.recorded(t))
	reason := link.reason

	sess.Close("again")
	if len(link.recorded(t)) != framesAfterFirst {
		t.Fatal("second Close emitted more frames")
	}
	if link.reason != reason || reason != "Connection timeout" {
		t.Fatalf("close reason = %q", link.reason)
	}
	if sess.State() != StateClosed {
		t.Fatalf("state = %v", sess.State())
	}
}

func TestSession_CloseBeforeBeginEmitsNothing(t *testing.T) {
	sess, link := newTestSession(testConfig(), &inferencetest.Toolkit{})
	sess.Close("Connection timeout")
	if n := len(link.recorded(t)); n != 0 {
		t.Fatalf("%d frames emitted for a never-started session", n)
	}
	if !link.closed {
		t.Fatal("channel not closed")
	}
}

func TestSession_OnlineMode(t *testing.T) {
	cfg := testConfig()
	cfg.Recognizer.Mode = config.ModeStreamingZipformer

	sess, link := newTestSession(cfg, &inferencetest.Toolkit{
		Utterances: []inferencetest.Utterance{
			{Partials: []string{"he"}, Final: "hello", Samples: 3200},
		},
	})

	sess.HandleText([]byte(beginFrame))
	sendPCM(sess, speechPCM(1600))
	sendPCM(sess, speechPCM(1600))
	sess.HandleText([]byte(endFrame))

	var names []string
	for _, fr := range link.recorded(t) {
		names = append(names, fr.Header.Name)
	}
	// Started, SentenceBegin(1), Result, [Result,] SentenceEnd(1),
	// SentenceBegin(2), SentenceEnd(2), Completed.
	if names[0] != "Started" || names[1] != "SentenceBegin" {
		t.Fatalf("prefix = %v", names)
	}
	if names[len(names)-1] != "Completed" {
		t.Fatalf("suffix = %v", names)
	}
	ends := 0
	for _, fr := range link.recorded(t) {
		if fr.Header.Name == "SentenceEnd" && fr.Payload["idx"].(float64) == 1 {
			if fr.Payload["text"].(string) != "hello" {
				t.Fatalf("SentenceEnd text = %v", fr.Payload["text"])
			}
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("SentenceEnd(1) count = %d", ends)
	}
}

func TestSession_SpeakerRoundTrip(t *testing.T) {
	catalog, err := voiceprint.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open catalog: %v", err)
	}
	extractor := inferencetest.NewExtractor()
	vp, err := voiceprint.NewIdentifier(voiceprint.IdentifierConfig{},
		extractor, voiceprint.NewManager(extractor.Dim()), nil, catalog, nil)
	if err != nil {
		t.Fatalf("NewIdentifier: %v", err)
	}

	// Enroll the reference utterance.
	utterance := speechPCM(10 * win)
	wav := filepath.Join(t.TempDir(), "ref.wav")
	if err := audio.WriteWAVFile(wav, utterance, audio.SampleRate); err != nil {
		t.Fatal(err)
	}
	speakerID, err := vp.AddSpeaker("Alice", []string{wav}, true)
	if err != nil {
		t.Fatalf("AddSpeaker: %v", err)
	}

	link := &fakeLink{}
	sess := newSession(testConfig(), &inferencetest.Toolkit{OfflineTexts: []string{"hi"}},
		nil, speakerAdapter{vp}, link, slog.New(slog.DiscardHandler))

	sess.HandleText([]byte(beginFrame))
	sendPCM(sess, utterance)
	sendPCM(sess, silencePCM(3*win))
	sess.HandleText([]byte(endFrame))

	var end *recordedFrame
	for _, fr := range link.recorded(t) {
		fr := fr
		if fr.Header.Name == "SentenceEnd" {
			end = &fr
		}
	}
	if end == nil {
		t.Fatal("no SentenceEnd")
	}
	if got, _ := end.Payload["speaker_id"].(string); got != speakerID {
		t.Fatalf("speaker_id = %q, want %q", got, speakerID)
	}
	if got, _ := end.Payload["speaker"].(string); got != "Alice" {
		t.Fatalf("speaker = %q, want Alice", got)
	}
}
