// Package media holds the engine-neutral description of remote media and the
// contract every extraction engine implements.
package media

import (
	"context"
	"slices"
	"strings"
)

// MediaType classifies what a URL points to.
type MediaType string

const (
	TypePlaylist MediaType = "playlist"
	TypeVideo    MediaType = "video"
	TypeAudio    MediaType = "audio"
	TypeImage    MediaType = "image"
	TypeUnknown  MediaType = "unknown"
)

const codecNone = "none"

var imageExtensions = []string{"jpg", "jpeg", "png", "gif"}

// Engine is the external media extraction engine.
type Engine interface {
	// Extract resolves url without downloading anything.
	Extract(ctx context.Context, url string) (*Metadata, error)
	// Download fetches url using the format selector and writes it to a path
	// matching outputTemplate.
	Download(ctx context.Context, url, selector, outputTemplate string) (*DownloadResult, error)
}

// Metadata is the descriptive record an engine returns for a URL.
type Metadata struct {
	Kind       string
	ID         string
	Title      string
	Ext        string
	VCodec     string
	ACodec     string
	Width      *int
	Height     *int
	Filesize   *int64
	FormatID   string
	Resolution string
	TBR        *float64
	ABR        *float64
	Formats    []Format

	// Entries is non-nil iff the engine reported a collection, even an empty one.
	Entries []Entry
}

// Format is one downloadable rendition of a media item.
type Format struct {
	ID         string
	Ext        string
	Filesize   *int64
	TBR        *float64
	ABR        *float64
	Resolution string
	VCodec     string
	ACodec     string
	Width      *int
	Height     *int
}

// Entry is one item of a playlist.
type Entry struct {
	Title string
	URL   string
}

// DownloadResult is what a download run produced.
type DownloadResult struct {
	// Path is the file the engine reports having written. It may be empty.
	Path string
	Info *Metadata
}

// IsCollection reports whether the record describes a playlist-like collection.
func (m *Metadata) IsCollection() bool {
	return m.Entries != nil || m.Kind == "playlist" || m.Kind == "multi_video"
}

// MediaType classifies the record by inspecting codecs and extension.
func (m *Metadata) MediaType() MediaType {
	switch {
	case m.IsCollection():
		return TypePlaylist
	case hasCodec(m.VCodec):
		return TypeVideo
	case hasCodec(m.ACodec):
		return TypeAudio
	case slices.Contains(imageExtensions, strings.ToLower(m.Ext)):
		return TypeImage
	default:
		return TypeUnknown
	}
}

// FindFormat returns the format with the given id.
func (m *Metadata) FindFormat(id string) (Format, bool) {
	for _, f := range m.Formats {
		if f.ID == id {
			return f, true
		}
	}

	return Format{}, false
}

func hasCodec(codec string) bool {
	return codec != "" && codec != codecNone
}
