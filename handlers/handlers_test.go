package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nijaru/duoscribe/config"
	"github.com/nijaru/duoscribe/export"
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/session"
	"github.com/nijaru/duoscribe/transcription"
	"github.com/nijaru/duoscribe/validation"
	"github.com/sirupsen/logrus"
)

const helloRaw = `{"originalLanguage":"English","originalContent":"Hello world","indonesianTranslation":"Halo dunia","summary":"Salam"}`

// processorFunc adapts a function to session.Processor.
type processorFunc func(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error)

func (f processorFunc) Process(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error) {
	return f(ctx, in)
}

func helloProcessor(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error) {
	return &models.TranscriptionResult{Original: "Hello world", Indonesian: "Halo dunia", Raw: helloRaw}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:   "0",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
		Version:      "test",
		Limits:       config.LimitsConfig{MaxVideoSize: 1024, MaxTextLength: 64},
		Session:      config.SessionConfig{Store: "memory", TTL: time.Hour, PurgeInterval: time.Minute},
		CORS:         config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}},
	}
}

type testServer struct {
	*Server
	t *testing.T
}

func newTestServer(t *testing.T, cfg *config.Config, p processorFunc) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	v := validation.NewValidator(cfg.Limits)
	controller := session.NewController(session.NewMemoryStore(), p, v, cfg.Session.TTL, log)
	srv := NewServer(cfg,
		WithSessions(controller),
		WithValidator(v),
		WithLogger(log),
		WithModel("gemini-test"),
	)
	return &testServer{Server: srv, t: t}
}

func (ts *testServer) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) doJSON(method, path string, payload interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		ts.t.Fatal(err)
	}
	return ts.do(method, path, bytes.NewReader(body), "application/json")
}

func (ts *testServer) upload(id, name string, data []byte) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		ts.t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/file", &buf, mw.FormDataContentType())
}

type envelope struct {
	Success bool        `json:"success"`
	Data    SessionView `json:"data"`
	Error   string      `json:"error"`
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return env
}

func (ts *testServer) createSession() string {
	ts.t.Helper()
	rr := ts.do(http.MethodPost, "/api/v1/sessions", nil, "")
	if rr.Code != http.StatusCreated {
		ts.t.Fatalf("create session: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeView(ts.t, rr)
	if env.Data.ID == "" {
		ts.t.Fatal("expected a session id")
	}
	return env.Data.ID
}

func (ts *testServer) getView(id string) SessionView {
	ts.t.Helper()
	rr := ts.do(http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	if rr.Code != http.StatusOK {
		ts.t.Fatalf("get session: expected 200, got %d", rr.Code)
	}
	return decodeView(ts.t, rr).Data
}

func (ts *testServer) wait() {
	ts.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Wait(ctx); err != nil {
		ts.t.Fatalf("background submission did not finish: %v", err)
	}
}

var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00,
	'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

func TestTextSubmissionFlow(t *testing.T) {
	var received transcription.Input
	ts := newTestServer(t, testConfig(), func(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error) {
		received = in
		return helloProcessor(ctx, in)
	})
	id := ts.createSession()

	if rr := ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/mode", map[string]string{"mode": "text"}); rr.Code != http.StatusOK {
		t.Fatalf("select mode: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr := ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": "Hello world"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set text: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if view := decodeView(t, rr).Data; !view.Input.CanSubmit || view.Input.TextLength != 11 {
		t.Errorf("expected submittable text input, got %+v", view.Input)
	}

	rr = ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	ts.wait()

	if in, ok := received.(transcription.TextInput); !ok || in.Content != "Hello world" {
		t.Errorf("expected text input 'Hello world', got %#v", received)
	}

	view := ts.getView(id)
	if view.Input.Status != models.StatusSuccess {
		t.Errorf("expected success, got %s", view.Input.Status)
	}
	want := OutputPanel{View: ViewDocument, Original: "Hello world", Indonesian: "Halo dunia", Language: "English", Summary: "Salam"}
	if view.Output != want {
		t.Errorf("expected output %+v, got %+v", want, view.Output)
	}

	rr = ts.do(http.MethodGet, "/api/v1/sessions/"+id+"/result/indonesian", nil, "")
	if rr.Code != http.StatusOK || rr.Body.String() != "Halo dunia" {
		t.Errorf("copy: expected 'Halo dunia', got %d %q", rr.Code, rr.Body.String())
	}

	if rr := ts.do(http.MethodGet, "/api/v1/sessions/"+id+"/result/klingon", nil, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("copy: expected 400 for unknown column, got %d", rr.Code)
	}

	rr = ts.do(http.MethodGet, "/api/v1/sessions/"+id+"/export", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), export.FileName) {
		t.Errorf("expected attachment %s, got %q", export.FileName, rr.Header().Get("Content-Disposition"))
	}
	body := rr.Body.String()
	for _, s := range []string{"ORIGINAL TRANSCRIPTION:", "Hello world", "INDONESIAN TRANSLATION:", "Halo dunia"} {
		if !strings.Contains(body, s) {
			t.Errorf("expected export to contain %q", s)
		}
	}
}

func TestVideoUpload(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()

	rr := ts.upload(id, "clip.mp4", mp4Header)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	view := decodeView(t, rr).Data
	if view.Input.File == nil || view.Input.File.MIMEType != "video/mp4" || view.Input.File.Name != "clip.mp4" {
		t.Fatalf("unexpected file view %+v", view.Input.File)
	}
	if !view.Input.CanSubmit {
		t.Error("expected upload to make the session submittable")
	}
}

func TestVideoUploadRejected(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code int
	}{
		{"oversized", append(append([]byte{}, mp4Header...), make([]byte, 2048)...), http.StatusRequestEntityTooLarge},
		{"not a video", []byte("just some plain text"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, testConfig(), helloProcessor)
			id := ts.createSession()
			before := ts.getView(id)

			rr := ts.upload(id, "upload.bin", tt.data)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
			if env := decodeView(t, rr); env.Success || env.Error == "" {
				t.Errorf("expected error envelope, got %+v", env)
			}

			after := ts.getView(id)
			if after.Input != before.Input || after.Output != before.Output {
				t.Errorf("expected state unchanged: before %+v after %+v", before, after)
			}
		})
	}
}

func TestSubmitRefused(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()

	rr := ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if view := ts.getView(id); view.Input.Status != models.StatusIdle {
		t.Errorf("expected idle, got %s", view.Input.Status)
	}
}

func TestSubmitFailureShowsGenericMessage(t *testing.T) {
	ts := newTestServer(t, testConfig(), func(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error) {
		return nil, &transcription.Error{Op: "test", Kind: transcription.ErrSchemaViolation}
	})
	id := ts.createSession()
	ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/mode", map[string]string{"mode": "TEXT"})
	ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": "Hello"})

	if rr := ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	ts.wait()

	view := ts.getView(id)
	if view.Input.Error != session.FailureMessage {
		t.Errorf("expected generic failure message, got %q", view.Input.Error)
	}
	if view.Output.View != ViewPlaceholder {
		t.Errorf("expected placeholder output, got %+v", view.Output)
	}
	if rr := ts.do(http.MethodGet, "/api/v1/sessions/"+id+"/export", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 export without result, got %d", rr.Code)
	}
}

func TestProcessingView(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, testConfig(), func(ctx context.Context, in transcription.Input) (*models.TranscriptionResult, error) {
		<-release
		return helloProcessor(ctx, in)
	})
	id := ts.createSession()
	ts.upload(id, "clip.mp4", mp4Header)

	if rr := ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, ""); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}

	view := ts.getView(id)
	if view.Output.View != ViewProcessing || view.Input.CanSubmit {
		t.Errorf("expected processing view, got %+v", view)
	}
	if rr := ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, ""); rr.Code != http.StatusConflict {
		t.Errorf("expected duplicate submit refused, got %d", rr.Code)
	}

	close(release)
	ts.wait()
	if view := ts.getView(id); view.Output.View != ViewDocument {
		t.Errorf("expected document view, got %+v", view.Output)
	}
}

func TestModeSwitchAndClear(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()
	ts.upload(id, "clip.mp4", mp4Header)

	rr := ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/mode", map[string]string{"mode": "TEXT"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	view := decodeView(t, rr).Data
	if view.Input.Mode != models.ModeText || view.Input.File != nil {
		t.Errorf("expected text mode with no file, got %+v", view.Input)
	}

	ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": "Hello"})
	rr = ts.do(http.MethodPost, "/api/v1/sessions/"+id+"/clear", nil, "")
	if view := decodeView(t, rr).Data; view.Input.Text != "" || view.Input.CanSubmit {
		t.Errorf("expected cleared input, got %+v", view.Input)
	}
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()
	base := "/api/v1/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		code   int
	}{
		{"unknown mode", http.MethodPut, base + "/mode", `{"mode":"AUDIO"}`, "application/json", http.StatusBadRequest},
		{"missing mode", http.MethodPut, base + "/mode", `{}`, "application/json", http.StatusBadRequest},
		{"not json", http.MethodPut, base + "/mode", `mode=TEXT`, "application/x-www-form-urlencoded", http.StatusBadRequest},
		{"broken json", http.MethodPut, base + "/mode", `{"mode":`, "application/json", http.StatusBadRequest},
		{"text in video mode", http.MethodPut, base + "/text", `{"text":"hi"}`, "application/json", http.StatusBadRequest},
		{"copy before result", http.MethodGet, base + "/result/original", "", "", http.StatusNotFound},
		{"unknown session", http.MethodGet, "/api/v1/sessions/nope", "", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v2/anything", "", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, base, "", "", http.StatusMethodNotAllowed},
		{"upload without multipart", http.MethodPost, base + "/file", "raw", "video/mp4", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(tt.method, tt.path, strings.NewReader(tt.body), tt.ctype)
			if rr.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestTextTooLong(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()
	ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/mode", map[string]string{"mode": "TEXT"})

	rr := ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": strings.Repeat("a", 65)})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if view := ts.getView(id); view.Input.Text != "" {
		t.Errorf("expected text unchanged, got %q", view.Input.Text)
	}
}

func TestTextLengthCountsBytes(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()
	ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/mode", map[string]string{"mode": "text"})

	// 32 two-byte runes fill the 64-byte limit exactly.
	rr := ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": strings.Repeat("é", 32)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if view := decodeView(t, rr).Data; view.Input.TextLength != 64 {
		t.Errorf("expected text length 64, got %d", view.Input.TextLength)
	}

	rr = ts.doJSON(http.MethodPut, "/api/v1/sessions/"+id+"/text", map[string]string{"text": strings.Repeat("é", 33)})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 past the limit, got %d", rr.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)
	id := ts.createSession()

	if rr := ts.do(http.MethodDelete, "/api/v1/sessions/"+id, nil, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/api/v1/sessions/"+id, nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig(), helloProcessor)

	rr := ts.do(http.MethodGet, "/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var env struct {
		Data map[string]interface{} `json:"data"`
	}
	json.NewDecoder(rr.Body).Decode(&env)
	if env.Data["status"] != "ok" || env.Data["model"] != "gemini-test" {
		t.Errorf("unexpected health payload %+v", env.Data)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 1}
	ts := newTestServer(t, cfg, helloProcessor)

	if rr := ts.do(http.MethodGet, "/health", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/health", nil, ""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
}
