package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pitchroom/internal/bootstrap"
	"pitchroom/internal/config"
	"pitchroom/internal/domain"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, out.String())
}

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.Backend.BaseURL = baseURL
	cfg.Logging.Level = "error"
	return cfg
}

func executeRoot(t *testing.T, deps *Dependencies, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(deps)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestVersionFlag(t *testing.T) {
	t.Parallel()

	out := executeRoot(t, &Dependencies{Config: config.Default()}, "--version")
	if out != "pitchroom dev\n" {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestConfigCmdPrintsTOML(t *testing.T) {
	t.Parallel()

	out := executeRoot(t, &Dependencies{Config: config.Default()}, "config")
	if !strings.HasPrefix(out, "# no config file found") {
		t.Fatalf("expected source comment, got %q", out)
	}
	for _, want := range []string{`base_url = "http://localhost:8000"`, `transcript_path = "/ws_transcript"`, `name = "RBC Judge"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in config output:\n%s", want, out)
		}
	}
}

func TestDoctorReportsHealthySetup(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	rulesPath := filepath.Join(t.TempDir(), "pitch.rules")
	if err := os.WriteFile(rulesPath, []byte("one password => 1Password\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg := testConfig(server.URL)
	cfg.Rules.Path = rulesPath

	out := executeRoot(t, &Dependencies{Config: cfg}, "doctor")
	for _, want := range []string{
		"✅ Backend: " + server.URL,
		"✅ Substitution rules: 1 rules from " + rulesPath,
		"✅ Judges: RBC Judge, Google Judge, 1Password Judge",
		"✅ Kafka: disabled",
		"Ready to pitch!",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output:\n%s", want, out)
		}
	}
}

func TestDoctorReportsFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	rulesPath := filepath.Join(t.TempDir(), "bad.rules")
	if err := os.WriteFile(rulesPath, []byte("not a rule\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg := testConfig(baseURL)
	cfg.Rules.Path = rulesPath

	out := executeRoot(t, &Dependencies{Config: cfg}, "doctor")
	for _, want := range []string{"❌ Backend:", "❌ Substitution rules:", "Some checks failed."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in doctor output:\n%s", want, out)
		}
	}
}

type fakeBackendServer struct {
	mu       sync.Mutex
	paths    []string
	analysis []byte
}

func (f *fakeBackendServer) record(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if path == "/generate_analysis" {
		f.analysis = body
	}
}

func (f *fakeBackendServer) saw(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seen := range f.paths {
		if seen == path {
			return true
		}
	}
	return false
}

func (f *fakeBackendServer) handler(t *testing.T) http.Handler {
	frame := pngBytes(t)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	stream := func(first func(conn *websocket.Conn)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.record(r.URL.Path, nil)
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			first(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws_transcript", stream(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"speaker":"RBC Judge","text":"What's your CAC?"}`))
	}))
	mux.HandleFunc("/ws", stream(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.record(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/generate_analysis" {
			_, _ = io.WriteString(w, `{"score":8,"feedback":"tighten the ask"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	return mux
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRunSessionStreamsAndPrintsAnalysis(t *testing.T) {
	backend := &fakeBackendServer{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	deps := &Dependencies{Config: testConfig(server.URL), Assemble: bootstrap.Assemble}

	stdin, commands := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runSession(context.Background(), deps, runOptions{}, stdin, out)
	}()

	waitForOutput(t, out, "RBC Judge: What's your CAC?")
	waitForOutput(t, out, "🎙️  RBC Judge (RBC)")
	_, _ = io.WriteString(commands, "q\n")
	waitForOutput(t, out, "Judges are moving to questions")
	_, _ = io.WriteString(commands, "s\n")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v\n%s", err, out.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not finish:\n%s", out.String())
	}
	_ = commands.Close()

	if !backend.saw("/start_chat") || !backend.saw("/begin_qna") || !backend.saw("/stop") {
		t.Fatalf("unexpected backend calls: %v", backend.paths)
	}
	if !strings.Contains(out.String(), `"score": 8`) {
		t.Fatalf("expected printed analysis:\n%s", out.String())
	}

	var request domain.AnalysisRequest
	if err := json.Unmarshal(backend.analysis, &request); err != nil {
		t.Fatalf("decode analysis request: %v", err)
	}
	if len(request.Transcript) != 1 || request.Transcript[0].Speaker != "RBC Judge" {
		t.Fatalf("unexpected analysis transcript: %+v", request.Transcript)
	}
	if request.TimeLeft <= 0 || request.TimeLeft > 300 {
		t.Fatalf("unexpected time_left: %d", request.TimeLeft)
	}
}

func TestRunSessionOutlivesStdinEOF(t *testing.T) {
	backend := &fakeBackendServer{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	deps := &Dependencies{Config: testConfig(server.URL), Assemble: bootstrap.Assemble}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runSession(ctx, deps, runOptions{}, strings.NewReader(""), out)
	}()

	waitForOutput(t, out, "RBC Judge: What's your CAC?")
	if strings.Contains(out.String(), "Ending session") || backend.saw("/stop") {
		t.Fatalf("empty stdin must not end the session:\n%s", out.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v\n%s", err, out.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not finish after cancel:\n%s", out.String())
	}
	if !backend.saw("/stop") || !strings.Contains(out.String(), `"score": 8`) {
		t.Fatalf("expected stop and analysis after cancel:\n%s", out.String())
	}
}

func TestRunSessionStartFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	deps := &Dependencies{Config: testConfig(server.URL), Assemble: bootstrap.Assemble}

	err := runSession(context.Background(), deps, runOptions{}, strings.NewReader(""), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "starting session") {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestRunSessionReportsMetricsBindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	deps := &Dependencies{Config: testConfig("http://127.0.0.1:1"), Assemble: bootstrap.Assemble}
	err = runSession(context.Background(), deps, runOptions{metricsAddr: taken.Addr().String()}, strings.NewReader(""), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "metrics listener") {
		t.Fatalf("expected metrics bind error, got %v", err)
	}
}

func TestWriteAnalysisToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "analysis.json")
	var out bytes.Buffer
	result := domain.AnalysisResult{SessionID: "s1", Payload: json.RawMessage(`{"score":8}`)}
	if err := writeAnalysis(result, path, newFormatter(&out)); err != nil {
		t.Fatalf("write analysis: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read analysis: %v", err)
	}
	if string(contents) != "{\n  \"score\": 8\n}\n" {
		t.Fatalf("unexpected file contents: %q", contents)
	}
	if !strings.Contains(out.String(), "Analysis saved: "+path) {
		t.Fatalf("expected saved message, got %q", out.String())
	}
}

func TestSessionPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printer := newSessionPrinter(newFormatter(&out))

	printer.RemainingTimeChanged("s1", 287)
	if out.Len() != 0 {
		t.Fatalf("expected no countdown line at 4:47, got %q", out.String())
	}
	printer.RemainingTimeChanged("s1", 240)
	printer.TranscriptAppended("s1", domain.TranscriptEntry{Speaker: "Google Judge", Text: "Who is the buyer?", Sequence: 1})
	printer.SpeakerChanged("s1", nil)
	printer.FrameUpdated("s1", &domain.Frame{Arrival: 1})
	printer.SessionStateChanged("s1", domain.SessionStateIdle, domain.SessionReasonSessionStopped)
	printer.AnalysisReady(domain.EmptyAnalysis("s1"))

	want := "⏱️  4:00 left\n" +
		"[4:00] Google Judge: Who is the buyer?\n" +
		"ℹ️  Session ended after 1 frames. Scoring your pitch...\n" +
		"⚠️  Analysis unavailable, the backend did not score this session\n"
	if out.String() != want {
		t.Fatalf("unexpected printer output:\n%q\nwant:\n%q", out.String(), want)
	}
}
