// Package ytdlp runs the yt-dlp binary through github.com/lrstanley/go-ytdlp
// and maps its JSON output onto media.Metadata.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/media"
	"github.com/lrstanley/go-ytdlp"
)

// EngineName labels yt-dlp in logs and metrics.
const EngineName = "yt-dlp"

const errorPrefix = "ERROR:"

// Client implements media.Engine on top of yt-dlp.
type Client struct {
	Verbose      bool
	FlatPlaylist bool

	run func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error)
}

func NewClient(verbose, flatPlaylist bool) *Client {
	return &Client{
		Verbose:      verbose,
		FlatPlaylist: flatPlaylist,
		run: func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
			return cmd.Run(ctx, url)
		},
	}
}

// Ensure Client implements media.Engine
var _ media.Engine = (*Client)(nil)

// Install makes sure a yt-dlp binary is available, downloading it when needed.
func Install(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("engine", EngineName)

	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}

	logger.Info("media engine ready", "executable", resolved.Executable, "version", resolved.Version)

	return nil
}

func (c *Client) Extract(ctx context.Context, url string) (*media.Metadata, error) {
	logger := logctx.LoggerFromContext(ctx).With("engine", EngineName, "op", "extract")

	cmd := c.command().DumpSingleJSON()
	if c.FlatPlaylist {
		cmd = cmd.FlatPlaylist()
	}

	logger.Debug("extracting metadata", "url", url)

	res, err := c.run(ctx, cmd, url)
	if err != nil {
		return nil, newEngineError("extract", res, err)
	}

	raw, err := decodeInfo(res.Stdout)
	if err != nil {
		return nil, &media.EngineError{Op: "extract", Message: "could not read media information", Err: err}
	}

	return raw.toMetadata(), nil
}

func (c *Client) Download(ctx context.Context, url, selector, outputTemplate string) (*media.DownloadResult, error) {
	logger := logctx.LoggerFromContext(ctx).With("engine", EngineName, "op", "download")

	cmd := c.command().
		DumpSingleJSON().
		NoSimulate().
		NoPlaylist().
		Format(selector).
		Output(outputTemplate)

	logger.Debug("downloading media", "url", url, "selector", selector, "template", outputTemplate)

	res, err := c.run(ctx, cmd, url)
	if err != nil {
		return nil, newEngineError("download", res, err)
	}

	raw, err := decodeInfo(res.Stdout)
	if err != nil {
		// The file may still be on disk; the caller locates it by its unique id.
		logger.Warn("could not decode download info", "err", err)

		return &media.DownloadResult{}, nil
	}

	return &media.DownloadResult{Path: raw.downloadedPath(), Info: raw.toMetadata()}, nil
}

func (c *Client) command() *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings()
	if c.Verbose {
		return cmd.Verbose()
	}

	return cmd.Quiet()
}

func decodeInfo(stdout string) (*rawInfo, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, errors.New("empty output")
	}

	// --dump-single-json prints one document, on the last line when verbose.
	if i := strings.LastIndexByte(stdout, '\n'); i >= 0 && !json.Valid([]byte(stdout)) {
		stdout = stdout[i+1:]
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}

	return &raw, nil
}

func newEngineError(op string, res *ytdlp.Result, err error) *media.EngineError {
	var stderr string
	if res != nil {
		stderr = res.Stderr
	}

	return &media.EngineError{Op: op, Message: engineMessage(stderr, err), Err: err}
}

// engineMessage extracts the last ERROR line yt-dlp wrote, falling back to
// the error text.
func engineMessage(stderr string, err error) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if msg, ok := strings.CutPrefix(line, errorPrefix); ok {
			if msg = strings.TrimSpace(msg); msg != "" {
				return msg
			}
		}
	}

	if err != nil {
		return err.Error()
	}

	return "unknown engine error"
}
