package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/downloader/progress"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/media"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

const (
	maxBodySize = 1 << 20

	defaultPlaylistTitle = "Untitled Playlist"
	defaultTitle         = "Untitled"
	imageFormatID        = "image"
	audioOnly            = "audio only"
	codecNone            = "none"
	unknownValue         = "unknown"

	progressInterval = int64(50 * 1024 * 1024) // 50MB
)

// Extractor resolves metadata for a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*media.Metadata, error)
}

// Downloader produces a tracked file for a request.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (*downloader.Result, error)
}

// FileReleaser deletes a streamed file without blocking the request.
type FileReleaser interface {
	DeleteAsync(ctx context.Context, path string)
}

type extractRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL      string `json:"url"`
	FormatID string `json:"format_id"`
	Title    string `json:"title"`
}

type playlistResponse struct {
	Type    media.MediaType `json:"type"`
	Title   string          `json:"title"`
	Entries []entryResponse `json:"entries"`
}

type entryResponse struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type itemResponse struct {
	Type    media.MediaType `json:"type"`
	Title   string          `json:"title"`
	Formats []any           `json:"formats"`
}

type streamFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	Filesize   string   `json:"filesize"`
	TBR        *float64 `json:"tbr"`
	Resolution string   `json:"resolution"`
	VCodec     string   `json:"vcodec"`
	ACodec     string   `json:"acodec"`
	ABR        *float64 `json:"abr"`
}

type imageFormat struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Filesize string `json:"filesize"`
	Width    *int   `json:"width"`
	Height   *int   `json:"height"`
}

// MediaHandler serves metadata extraction and downloads.
type MediaHandler struct {
	engine    Extractor
	downloads Downloader
	files     FileReleaser
	telemetry *telemetry.Telemetry
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(engine Extractor, downloads Downloader, files FileReleaser, tel *telemetry.Telemetry) *MediaHandler {
	return &MediaHandler{
		engine:    engine,
		downloads: downloads,
		files:     files,
		telemetry: tel,
	}
}

func (h *MediaHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/extract", h.HandleExtract)
	r.Post("/download", h.HandleDownload)

	return r
}

// HandleExtract lists the formats of a media URL, or the entries of a playlist.
func (h *MediaHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req extractRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("rejected extract request", "err", err)
		writeFailure(w, r, err)

		return
	}

	logger.Info("extracting media info", "url", req.URL)

	info, err := h.engine.Extract(ctx, req.URL)
	if err != nil {
		logger.Error("failed to extract media info", "url", req.URL, "err", err)
		h.telemetry.RecordExtraction(ctx, "error", string(media.TypeUnknown))

		if writeFailure(w, r, err) {
			h.telemetry.RecordSystemError(ctx, "extract", "internal")
		}

		return
	}

	mediaType := info.MediaType()
	h.telemetry.RecordExtraction(ctx, "success", string(mediaType))

	if mediaType == media.TypePlaylist {
		resp := playlistResponse{
			Type:    media.TypePlaylist,
			Title:   orDefault(info.Title, defaultPlaylistTitle),
			Entries: make([]entryResponse, 0, len(info.Entries)),
		}

		for _, e := range info.Entries {
			resp.Entries = append(resp.Entries, entryResponse{Title: orDefault(e.Title, defaultTitle), URL: e.URL})
		}

		logger.Info("extracted playlist info", "title", resp.Title, "entries", len(resp.Entries))
		writeJSON(w, r, http.StatusOK, resp)

		return
	}

	resp := itemResponse{
		Type:    mediaType,
		Title:   orDefault(info.Title, defaultTitle),
		Formats: describeFormats(info, mediaType),
	}

	logger.Info("extracted media info", "media_type", mediaType, "title", resp.Title, "formats", len(resp.Formats))
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleDownload downloads the requested format and streams it back as an attachment.
func (h *MediaHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req downloadRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Warn("rejected download request", "err", err)
		writeFailure(w, r, err)

		return
	}

	title := orDefault(strings.TrimSpace(req.Title), defaultTitle)
	formatID := orDefault(strings.TrimSpace(req.FormatID), media.BestSelector)

	logger.Info("downloading media", "url", req.URL, "title", title, "format_id", formatID)

	res, err := h.downloads.Download(ctx, downloader.Request{URL: req.URL, FormatID: formatID, Title: title})
	if err != nil {
		logger.Error("failed to download media", "url", req.URL, "format_id", formatID, "err", err)

		if writeFailure(w, r, err) {
			h.telemetry.RecordSystemError(ctx, "download", "internal")
		}

		return
	}

	// the file is no longer needed once the response is done, whatever happens
	defer h.files.DeleteAsync(ctx, res.Path)

	if err := h.stream(ctx, w, res); err != nil {
		logger.Error("failed to send file", "path", res.Path, "err", err)
		h.telemetry.RecordSystemError(ctx, "download", "stream")
		writeError(w, r, http.StatusInternalServerError, unexpectedErrorMessage)
	}
}

// stream only returns an error if nothing was written yet.
func (h *MediaHandler) stream(ctx context.Context, w http.ResponseWriter, res *downloader.Result) error {
	logger := logctx.LoggerFromContext(ctx)

	file, err := os.Open(res.Path)
	if err != nil {
		return fmt.Errorf("failed to open downloaded file: %w", err)
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(res.Path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	w.Header().Set("Content-Disposition", media.ContentDisposition(res.Filename))
	w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
	w.WriteHeader(http.StatusOK)

	logger.Info("sending file", "filename", res.Filename, "size", humanize.Bytes(uint64(res.Size)))

	pr := progress.NewReader(file, res.Size, progressInterval, func(sent, total int64) {
		logger.Debug("send progress",
			"sent", humanize.Bytes(uint64(sent)),
			"total", humanize.Bytes(uint64(total)))
	})

	if _, err := io.Copy(w, pr); err != nil {
		// headers are out already, the client most likely went away
		logger.Warn("file transfer interrupted", "filename", res.Filename, "sent", humanize.Bytes(uint64(pr.BytesRead())), "err", err)
	}

	return nil
}

func describeFormats(info *media.Metadata, mediaType media.MediaType) []any {
	formats := make([]any, 0, len(info.Formats))

	switch mediaType {
	case media.TypeVideo, media.TypeAudio:
		for _, f := range info.Formats {
			formats = append(formats, streamFormat{
				FormatID:   f.ID,
				Ext:        f.Ext,
				Filesize:   media.FormatFilesize(f.Filesize),
				TBR:        f.TBR,
				Resolution: orDefault(f.Resolution, audioOnly),
				VCodec:     orDefault(f.VCodec, codecNone),
				ACodec:     orDefault(f.ACodec, codecNone),
				ABR:        f.ABR,
			})
		}
	case media.TypeImage:
		formats = append(formats, imageFormat{
			FormatID: imageFormatID,
			Ext:      orDefault(info.Ext, unknownValue),
			Filesize: media.FormatFilesize(info.Filesize),
			Width:    info.Width,
			Height:   info.Height,
		})
	}

	return formats
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{ validate() error }) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		return &RequestError{Reason: "invalid request body", Err: err}
	}

	return v.validate()
}

func (r *extractRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return &RequestError{Reason: "url is required"}
	}

	return nil
}

func (r *downloadRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return &RequestError{Reason: "url is required"}
	}

	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
