package media

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

const (
	// BestSelector asks the engine for the best available rendition.
	BestSelector = "best"

	// UnknownSize is rendered for absent byte counts.
	UnknownSize = "unknown"

	unknownValue = "unknown"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// SanitizeFilename replaces every rune that is not a letter, digit,
// underscore, hyphen, period or space with an underscore.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}

		switch r {
		case '_', '-', '.', ' ':
			return r
		default:
			return '_'
		}
	}, name)
}

// FormatFilesize renders a byte count in the largest unit below 1024.
func FormatFilesize(size *int64) string {
	if size == nil {
		return UnknownSize
	}

	value := float64(*size)
	for _, unit := range sizeUnits[:len(sizeUnits)-1] {
		if value < 1024 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}

		value /= 1024
	}

	return fmt.Sprintf("%.2f %s", value, sizeUnits[len(sizeUnits)-1])
}

// Selector builds the engine format selector for a client supplied format id.
// A specific id falls back to the best rendition when it cannot be satisfied.
func Selector(formatID string) string {
	formatID = strings.TrimSpace(formatID)
	if formatID == "" || formatID == BestSelector {
		return BestSelector
	}

	return formatID + "/" + BestSelector
}

// OutputFilename is the attachment name presented to the client. The title is
// sanitized and has whitespace runs collapsed into a single underscore. ext
// includes its leading dot.
func OutputFilename(title string, info *Metadata, ext string) string {
	base := strings.Join(strings.Fields(SanitizeFilename(title)), "_")
	if base == "" {
		base = "Untitled"
	}

	if info == nil {
		return base + ext
	}

	switch info.MediaType() {
	case TypeVideo:
		return base + "_" + resolutionOf(info) + ext
	case TypeAudio:
		return base + "_" + bitrateOf(info) + "kbps" + ext
	default:
		return base + ext
	}
}

// EncodeFilename percent-encodes name for a RFC 5987 filename* parameter.
func EncodeFilename(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

// ContentDisposition is the attachment header value for name.
func ContentDisposition(name string) string {
	return "attachment; filename*=UTF-8''" + EncodeFilename(name)
}

func resolutionOf(info *Metadata) string {
	if info.Resolution != "" {
		return info.Resolution
	}

	if f, ok := info.FindFormat(info.FormatID); ok && f.Resolution != "" {
		return f.Resolution
	}

	if info.Width != nil && info.Height != nil {
		return fmt.Sprintf("%dx%d", *info.Width, *info.Height)
	}

	return unknownValue
}

func bitrateOf(info *Metadata) string {
	abr := info.ABR
	if abr == nil {
		if f, ok := info.FindFormat(info.FormatID); ok {
			abr = f.ABR
		}
	}

	if abr == nil {
		return unknownValue
	}

	return strconv.FormatFloat(*abr, 'f', -1, 64)
}
