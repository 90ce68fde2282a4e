package ytdlp

import "github.com/italolelis/media_downloader/internal/media"

// rawInfo is the subset of the yt-dlp info dict the service reads.
type rawInfo struct {
	Type       string      `json:"_type"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Ext        string      `json:"ext"`
	VCodec     string      `json:"vcodec"`
	ACodec     string      `json:"acodec"`
	Width      *int        `json:"width"`
	Height     *int        `json:"height"`
	Filesize   *int64      `json:"filesize"`
	FormatID   string      `json:"format_id"`
	Resolution string      `json:"resolution"`
	TBR        *float64    `json:"tbr"`
	ABR        *float64    `json:"abr"`
	Formats    []rawFormat `json:"formats"`
	Entries    []*rawEntry `json:"entries"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`

	Filename           string              `json:"filename"`
	LegacyFilename     string              `json:"_filename"`
	RequestedDownloads []requestedDownload `json:"requested_downloads"`
}

type rawFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	Filesize   *int64   `json:"filesize"`
	TBR        *float64 `json:"tbr"`
	ABR        *float64 `json:"abr"`
	Resolution string   `json:"resolution"`
	VCodec     string   `json:"vcodec"`
	ACodec     string   `json:"acodec"`
	Width      *int     `json:"width"`
	Height     *int     `json:"height"`
}

type rawEntry struct {
	Title      string `json:"title"`
	WebpageURL string `json:"webpage_url"`
	URL        string `json:"url"`
}

type requestedDownload struct {
	Filepath string `json:"filepath"`
}

func (r *rawInfo) toMetadata() *media.Metadata {
	m := &media.Metadata{
		Kind:       r.Type,
		ID:         r.ID,
		Title:      r.Title,
		Ext:        r.Ext,
		VCodec:     r.VCodec,
		ACodec:     r.ACodec,
		Width:      r.Width,
		Height:     r.Height,
		Filesize:   r.Filesize,
		FormatID:   r.FormatID,
		Resolution: r.Resolution,
		TBR:        r.TBR,
		ABR:        r.ABR,
	}

	for _, f := range r.Formats {
		m.Formats = append(m.Formats, f.toFormat())
	}

	if r.Entries != nil {
		m.Entries = make([]media.Entry, 0, len(r.Entries))

		for _, e := range r.Entries {
			if e == nil {
				continue
			}

			url := e.WebpageURL
			if url == "" {
				url = e.URL
			}

			m.Entries = append(m.Entries, media.Entry{Title: e.Title, URL: url})
		}
	}

	return m
}

func (f rawFormat) toFormat() media.Format {
	return media.Format{
		ID:         f.FormatID,
		Ext:        f.Ext,
		Filesize:   f.Filesize,
		TBR:        f.TBR,
		ABR:        f.ABR,
		Resolution: f.Resolution,
		VCodec:     f.VCodec,
		ACodec:     f.ACodec,
		Width:      f.Width,
		Height:     f.Height,
	}
}

func (r *rawInfo) downloadedPath() string {
	for _, d := range r.RequestedDownloads {
		if d.Filepath != "" {
			return d.Filepath
		}
	}

	if r.LegacyFilename != "" {
		return r.LegacyFilename
	}

	return r.Filename
}
