package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/media"
	"github.com/italolelis/media_downloader/internal/tempfiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine implements media.Engine. download writes whatever the test wants
// to the template path.
type fakeEngine struct {
	info     *media.Metadata
	err      error
	panicMsg string
	download func(template string) (*media.DownloadResult, error)
}

func (f *fakeEngine) Extract(context.Context, string) (*media.Metadata, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	return f.info, f.err
}

func (f *fakeEngine) Download(_ context.Context, _, _, template string) (*media.DownloadResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	return f.download(template)
}

func writeOutput(template, ext, content string) (string, error) {
	path := strings.Replace(template, "%(ext)s", ext, 1)

	return path, os.WriteFile(path, []byte(content), 0o600)
}

type testServer struct {
	router http.Handler
	files  *tempfiles.Manager
}

func newTestServer(t *testing.T, engine *fakeEngine) *testServer {
	t.Helper()

	files, err := tempfiles.New(tempfiles.Config{
		BaseDir:        t.TempDir(),
		TTL:            time.Hour,
		SweepInterval:  time.Minute,
		DeleteAttempts: 1,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = files.Shutdown(context.Background()) })

	h := NewMediaHandler(engine, downloader.NewDownloader(engine, files, nil), files, nil)

	r := chi.NewRouter()
	r.Use(Recoverer(nil))
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)
	r.Get("/healthz", Health)
	r.Mount("/", h.Routes())

	return &testServer{router: r, files: files}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())

	return body
}

func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestHandleExtract_Playlist(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{info: &media.Metadata{
		Kind:  "playlist",
		Title: "Road Trip",
		Entries: []media.Entry{
			{Title: "First", URL: "https://example.com/1"},
			{URL: "https://example.com/2"},
			{Title: "Third", URL: "https://example.com/3"},
		},
	}})

	rec := srv.do(http.MethodPost, "/extract", `{"url":"https://example.com/list"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeJSON(t, rec)
	assert.Equal(t, "playlist", body["type"])
	assert.Equal(t, "Road Trip", body["title"])

	entries, ok := body["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]any{"title": "Untitled", "url": "https://example.com/2"}, entries[1])
	assert.NotContains(t, body, "formats")
}

func TestHandleExtract_EmptyPlaylist(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{info: &media.Metadata{Entries: []media.Entry{}}})

	rec := srv.do(http.MethodPost, "/extract", `{"url":"https://example.com/list"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "playlist", body["type"])
	assert.Equal(t, "Untitled Playlist", body["title"])
	assert.Equal(t, []any{}, body["entries"])
}

func TestHandleExtract_Video(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{info: &media.Metadata{
		Title:  "Clip",
		VCodec: "avc1",
		Formats: []media.Format{
			{ID: "140", Ext: "m4a", Filesize: int64Ptr(1536), ABR: floatPtr(129.5), ACodec: "mp4a.40.2"},
			{ID: "137", Ext: "mp4", Resolution: "1920x1080", TBR: floatPtr(4371), VCodec: "avc1"},
		},
	}})

	rec := srv.do(http.MethodPost, "/extract", `{"url":"https://example.com/v"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "video", body["type"])
	assert.Equal(t, "Clip", body["title"])

	formats, ok := body["formats"].([]any)
	require.True(t, ok)
	require.Len(t, formats, 2)

	assert.Equal(t, map[string]any{
		"format_id":  "140",
		"ext":        "m4a",
		"filesize":   "1.50 KB",
		"tbr":        nil,
		"resolution": "audio only",
		"vcodec":     "none",
		"acodec":     "mp4a.40.2",
		"abr":        129.5,
	}, formats[0])

	assert.Equal(t, map[string]any{
		"format_id":  "137",
		"ext":        "mp4",
		"filesize":   "unknown",
		"tbr":        4371.0,
		"resolution": "1920x1080",
		"vcodec":     "avc1",
		"acodec":     "none",
		"abr":        nil,
	}, formats[1])
}

func TestHandleExtract_Image(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{info: &media.Metadata{
		Ext:      "png",
		Width:    intPtr(640),
		Height:   intPtr(480),
		Filesize: int64Ptr(2048),
	}})

	rec := srv.do(http.MethodPost, "/extract", `{"url":"https://example.com/p.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "image", body["type"])
	assert.Equal(t, "Untitled", body["title"])
	assert.Equal(t, []any{map[string]any{
		"format_id": "image",
		"ext":       "png",
		"filesize":  "2.00 KB",
		"width":     640.0,
		"height":    480.0,
	}}, body["formats"])
}

func TestHandleExtract_UnknownHasNoFormats(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{info: &media.Metadata{Title: "?", Ext: "bin"}})

	rec := srv.do(http.MethodPost, "/extract", `{"url":"https://example.com/x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "unknown", body["type"])
	assert.Equal(t, []any{}, body["formats"])
}

func TestHandleExtract_Errors(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		body   string
		status int
		msg    string
	}{
		{
			name:   "engine rejects url",
			engine: &fakeEngine{err: &media.EngineError{Op: "extract", Message: "Unsupported URL: https://example.com/nope"}},
			body:   `{"url":"https://example.com/nope"}`,
			status: http.StatusBadRequest,
			msg:    "Unsupported URL: https://example.com/nope",
		},
		{
			name:   "malformed body",
			engine: &fakeEngine{},
			body:   `{"url":`,
			status: http.StatusBadRequest,
			msg:    "invalid request body",
		},
		{
			name:   "missing url",
			engine: &fakeEngine{},
			body:   `{"url":"  "}`,
			status: http.StatusBadRequest,
			msg:    "url is required",
		},
		{
			name:   "internal failure is opaque",
			engine: &fakeEngine{err: errors.New("database is on fire")},
			body:   `{"url":"https://example.com"}`,
			status: http.StatusInternalServerError,
			msg:    "An unexpected error occurred",
		},
		{
			name:   "panic is recovered",
			engine: &fakeEngine{panicMsg: "nil map"},
			body:   `{"url":"https://example.com"}`,
			status: http.StatusInternalServerError,
			msg:    "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newTestServer(t, tt.engine).do(http.MethodPost, "/extract", tt.body)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, map[string]any{"error": tt.msg}, decodeJSON(t, rec))
		})
	}
}

func TestHandleDownload_BestFormat(t *testing.T) {
	engine := &fakeEngine{download: func(template string) (*media.DownloadResult, error) {
		path, err := writeOutput(template, "mp4", "video-bytes")

		return &media.DownloadResult{
			Path: path,
			Info: &media.Metadata{VCodec: "avc1", ACodec: "mp4a", Resolution: "1280x720"},
		}, err
	}}
	srv := newTestServer(t, engine)

	rec := srv.do(http.MethodPost, "/download", `{"url":"https://example.com/v","format_id":"best","title":"My Video"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment; filename*=UTF-8''My_Video"), disposition)
	assert.Equal(t, "attachment; filename*=UTF-8''My_Video_1280x720.mp4", disposition)
	assert.Equal(t, "Content-Disposition", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video-bytes", rec.Body.String())

	// the streamed file is released in the background
	require.Eventually(t, func() bool { return len(srv.files.Tracked()) == 0 }, time.Second, 10*time.Millisecond)

	entries, err := os.ReadDir(srv.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleDownload_ImageContentType(t *testing.T) {
	engine := &fakeEngine{download: func(template string) (*media.DownloadResult, error) {
		path, err := writeOutput(template, "png", "png")

		return &media.DownloadResult{Path: path, Info: &media.Metadata{Ext: "png"}}, err
	}}

	rec := newTestServer(t, engine).do(http.MethodPost, "/download", `{"url":"https://example.com/p.png","title":"Ünïcødé pic"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename*=UTF-8''%C3%9Cn%C3%AFc%C3%B8d%C3%A9_pic.png", rec.Header().Get("Content-Disposition"))
}

func TestHandleDownload_RejectedURLLeavesNoFile(t *testing.T) {
	engine := &fakeEngine{download: func(template string) (*media.DownloadResult, error) {
		if _, err := writeOutput(template, "mp4.part", "partial"); err != nil {
			return nil, err
		}

		return nil, &media.EngineError{Op: "download", Message: "Unsupported URL: https://example.com/nope"}
	}}
	srv := newTestServer(t, engine)

	rec := srv.do(http.MethodPost, "/download", `{"url":"https://example.com/nope","title":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeJSON(t, rec)
	assert.Contains(t, body, "error")
	assert.Equal(t, "Unsupported URL: https://example.com/nope", body["error"])

	entries, err := os.ReadDir(srv.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, srv.files.Tracked())
}

func TestHandleDownload_NoOutputIsClientError(t *testing.T) {
	engine := &fakeEngine{download: func(string) (*media.DownloadResult, error) {
		return &media.DownloadResult{}, nil
	}}

	rec := newTestServer(t, engine).do(http.MethodPost, "/download", `{"url":"https://example.com/v"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": downloader.ErrNoOutput.Error()}, decodeJSON(t, rec))
}

func TestHandleDownload_BadRequests(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	rec := srv.do(http.MethodPost, "/download", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "invalid request body"}, decodeJSON(t, rec))

	rec = srv.do(http.MethodPost, "/download", `{"title":"no url"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "url is required"}, decodeJSON(t, rec))
}

func TestHandleDownload_Panic(t *testing.T) {
	rec := newTestServer(t, &fakeEngine{panicMsg: "boom"}).do(http.MethodPost, "/download", `{"url":"https://example.com/v"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "An unexpected error occurred"}, decodeJSON(t, rec))
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	rec := srv.do(http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]any{"error": "not found"}, decodeJSON(t, rec))

	rec = srv.do(http.MethodGet, "/extract", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, map[string]any{"error": "method not allowed"}, decodeJSON(t, rec))

	rec = srv.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decodeJSON(t, rec))
}
