package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/document"
	"github.com/andresmejia3/gatekeeper/internal/gallery"
	"github.com/andresmejia3/gatekeeper/internal/gate"
	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/source"
	"github.com/andresmejia3/gatekeeper/internal/types"
)

var now = time.Date(2024, 11, 25, 9, 0, 0, 0, time.UTC)

// payloadExtractor recognizes frames whose bytes are "alice".
type payloadExtractor struct{}

func (payloadExtractor) Extract(ctx context.Context, frame []byte) ([]types.Detection, error) {
	if string(frame) == "alice" {
		return []types.Detection{{Vec: types.Embedding{0, 0}}}, nil
	}
	return nil, nil
}

type testEnv struct {
	server *Server
	gate   *gate.Gate
	docDir string
}

func newTestEnv(t *testing.T, withDocument bool) *testEnv {
	t.Helper()
	docDir := t.TempDir()
	if withDocument {
		if err := os.WriteFile(filepath.Join(docDir, "document.pdf"), []byte("%PDF-1.4 secret"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	g := gallery.New([]gallery.Entry{{Vec: types.Embedding{0, 0}, Label: "alice"}})
	gt := gate.New(gate.Config{Cooldown: 5 * time.Second}, nil)
	srv := NewServer("127.0.0.1:0", Deps{
		Matcher:       matcher.New(g, matcher.DefaultTolerance, matcher.WithExtractor(payloadExtractor{})),
		Gate:          gt,
		Documents:     document.NewStore(docDir),
		DocumentName:  "document.pdf",
		ServeDocument: true,
		OpenCamera: func(ctx context.Context) (source.Source, error) {
			return source.NewMemory([]byte("nobody"), []byte("alice"), []byte("alice")), nil
		},
		Now: func() time.Time { return now },
	})
	return &testEnv{server: srv, gate: gt, docDir: docDir}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) verify() {
	e.gate.Observe(context.Background(), types.MatchResult{Matched: true, Label: "alice"}, now)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.get(t, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "unverified" || len(body) != 1 {
		t.Errorf("expected bare unverified status, got %v", body)
	}

	env.verify()
	body = decodeBody(t, env.get(t, "/api/v1/status"))
	if body["status"] != "verified" || body["document"] != "/api/v1/document" {
		t.Errorf("expected verified status with document link, got %v", body)
	}
}

func TestDocument(t *testing.T) {
	tests := []struct {
		name     string
		present  bool
		verified bool
		wantCode int
	}{
		{"Missing and unverified", false, false, http.StatusNotFound},
		{"Missing and verified", false, true, http.StatusNotFound},
		{"Present and unverified", true, false, http.StatusForbidden},
		{"Present and verified", true, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.present)
			if tt.verified {
				env.verify()
			}
			rec := env.get(t, "/api/v1/document")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tt.wantCode, rec.Code, rec.Body.String())
			}
			switch rec.Code {
			case http.StatusOK:
				if rec.Body.String() != "%PDF-1.4 secret" {
					t.Errorf("unexpected body %q", rec.Body.String())
				}
				if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
					t.Errorf("expected application/pdf, got %q", ct)
				}
			case http.StatusNotFound:
				if decodeBody(t, rec)["error"] != "document not found" {
					t.Errorf("expected distinct not-found error, got %s", rec.Body.String())
				}
			}
		})
	}
}

func TestDocument_PullDisabled(t *testing.T) {
	env := newTestEnv(t, true)
	env.server = NewServer("127.0.0.1:0", Deps{
		Matcher: env.server.deps.Matcher,
		Gate:    env.gate,
		Now:     func() time.Time { return now },
	})
	env.verify()

	if rec := env.get(t, "/api/v1/document"); rec.Code != http.StatusNotFound {
		t.Errorf("document route should not exist in push-only mode, got %d", rec.Code)
	}
	if body := decodeBody(t, env.get(t, "/api/v1/status")); body["document"] != nil {
		t.Errorf("status should not advertise the document in push-only mode: %v", body)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	body := decodeBody(t, env.get(t, "/api/v1/health"))
	if body["status"] != "ok" || body["gallery_entries"] != float64(1) {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.get(t, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `src="/video_feed"`) {
		t.Errorf("index should embed the feed, got %d", rec.Code)
	}
}

func TestVideoFeed(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.get(t, "/video_feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != "frame" {
		t.Fatalf("unexpected Content-Type %q", rec.Header().Get("Content-Type"))
	}

	r := multipart.NewReader(rec.Body, params["boundary"])
	var frames []string
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		data, _ := io.ReadAll(part)
		frames = append(frames, string(data))
	}
	if strings.Join(frames, ",") != "nobody,alice,alice" {
		t.Errorf("expected frames in capture order, got %v", frames)
	}

	if !env.gate.Verified(now) {
		t.Error("the feed should have verified alice")
	}
	if env.gate.Unlocks() != 1 {
		t.Errorf("expected one unlock within the cooldown, got %d", env.gate.Unlocks())
	}
}

func TestVideoFeed_CameraUnavailable(t *testing.T) {
	env := newTestEnv(t, false)
	env.server.deps.OpenCamera = func(ctx context.Context) (source.Source, error) {
		return nil, errors.New("/dev/video0: no such device")
	}
	rec := env.get(t, "/video_feed")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	// Other routes keep working.
	if env.get(t, "/api/v1/status").Code != http.StatusOK {
		t.Error("status should be unaffected by a camera failure")
	}
}

// deadCamera opens fine but fails on the first read, like ffmpeg on a missing device.
type deadCamera struct{ closed bool }

func (d *deadCamera) Next(ctx context.Context) ([]byte, error) {
	return nil, errors.New("ffmpeg exited: No such file or directory")
}

func (d *deadCamera) Close() error {
	d.closed = true
	return nil
}

func TestVideoFeed_CameraProducesNoFrames(t *testing.T) {
	env := newTestEnv(t, false)
	cam := &deadCamera{}
	env.server.deps.OpenCamera = func(ctx context.Context) (source.Source, error) {
		return cam, nil
	}
	rec := env.get(t, "/video_feed")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !cam.closed {
		t.Error("the camera should be closed after a failed first read")
	}
}

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusTeapot, "nope")

	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
	if recorder.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, recorder.Code)
	}
}
