// Package downloader turns a download request into a file in the private
// temporary directory, ready to be streamed to the client.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/media"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

const (
	defaultTitle = "Untitled"

	// keeps "<title>_<uuid>.<ext>" well below common filename limits
	maxTitleRunes = 100
)

// ErrNoOutput is returned when the engine reported success but no file can be found.
var ErrNoOutput = errors.New("download finished but produced no file")

var fragmentSuffixes = []string{".part", ".ytdl"}

// Tracker registers produced files for deletion.
type Tracker interface {
	Dir() string
	Track(ctx context.Context, path string)
}

// Request is what a client asks to download.
type Request struct {
	URL      string
	FormatID string
	Title    string
}

// Result describes the file ready to be streamed.
type Result struct {
	Path      string // on-disk location inside the temporary directory
	Filename  string // attachment name presented to the client
	Size      int64
	MediaType media.MediaType
}

type Downloader struct {
	engine    media.Engine
	files     Tracker
	telemetry *telemetry.Telemetry
	newID     func() string
}

func NewDownloader(engine media.Engine, files Tracker, tel *telemetry.Telemetry) *Downloader {
	return &Downloader{
		engine:    engine,
		files:     files,
		telemetry: tel,
		newID:     uuid.NewString,
	}
}

// Download runs the engine and returns the produced, tracked file. Any file
// left behind by a failed run is removed.
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	var result *Result

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		var err error

		result, err = d.download(ctx, req)

		return err
	})

	return result, err
}

func (d *Downloader) download(ctx context.Context, req Request) (*Result, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}

	id := d.newID()
	selector := media.Selector(req.FormatID)
	template := filepath.Join(d.files.Dir(), fmt.Sprintf("%s_%s.%%(ext)s", truncateRunes(media.SanitizeFilename(title), maxTitleRunes), id))

	logger := logctx.LoggerFromContext(ctx).With("download_id", id)
	logger.Info("downloading media", "url", req.URL, "title", title, "selector", selector)

	res, err := d.engine.Download(ctx, req.URL, selector, template)
	if err != nil {
		d.removePartials(ctx, id)

		return nil, fmt.Errorf("failed to download %s: %w", req.URL, err)
	}

	path := d.locate(res, id)
	if path == "" {
		d.removePartials(ctx, id)

		return nil, ErrNoOutput
	}

	d.files.Track(ctx, path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	result := &Result{
		Path:      path,
		Filename:  media.OutputFilename(title, res.Info, filepath.Ext(path)),
		Size:      info.Size(),
		MediaType: media.TypeUnknown,
	}

	if res.Info != nil {
		result.MediaType = res.Info.MediaType()
	}

	logger.Info("downloaded media",
		"path", path,
		"filename", result.Filename,
		"media_type", result.MediaType,
		"size", humanize.Bytes(uint64(result.Size)))

	return result, nil
}

// locate prefers the engine reported path and falls back to scanning the
// temporary directory for the unique id.
func (d *Downloader) locate(res *media.DownloadResult, id string) string {
	if res != nil && res.Path != "" {
		if info, err := os.Stat(res.Path); err == nil && info.Mode().IsRegular() {
			return res.Path
		}
	}

	for _, match := range d.matches(id) {
		if isFragment(match) {
			continue
		}

		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
			return match
		}
	}

	return ""
}

func (d *Downloader) removePartials(ctx context.Context, id string) {
	logger := logctx.LoggerFromContext(ctx)

	for _, match := range d.matches(id) {
		if err := os.RemoveAll(match); err != nil {
			logger.Warn("failed to remove partial download", "path", match, "err", err)

			continue
		}

		logger.Debug("removed partial download", "path", match)
	}
}

func (d *Downloader) matches(id string) []string {
	// the id is a uuid, so it carries no glob metacharacters
	matches, _ := filepath.Glob(filepath.Join(d.files.Dir(), "*"+id+"*"))
	sort.Strings(matches)

	return matches
}

func isFragment(path string) bool {
	for _, suffix := range fragmentSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}

	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
