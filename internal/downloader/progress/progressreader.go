package progress

import (
	"errors"
	"io"
)

// ProgressReader wraps an io.Reader and reports progress via a callback.
// A report is made every interval bytes, on every crossed quarter of Total
// and once more when the reader is drained.
type ProgressReader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read int64, total int64)

	totalRead      int64
	sinceReport    int64
	reportInterval int64
	quarter        int64
	done           bool
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *ProgressReader {
	return &ProgressReader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// Read implements io.Reader.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceReport += int64(n)

		interval := pr.crossedInterval()
		quarter := pr.crossedQuarter()

		if interval || quarter {
			pr.report()
		}
	}

	if errors.Is(err, io.EOF) && !pr.done {
		pr.done = true
		if pr.sinceReport > 0 || pr.totalRead == 0 {
			pr.report()
		}
	}

	return n, err
}

// BytesRead is the number of bytes read so far.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.totalRead
}

func (pr *ProgressReader) crossedInterval() bool {
	return pr.reportInterval > 0 && pr.sinceReport >= pr.reportInterval
}

func (pr *ProgressReader) crossedQuarter() bool {
	if pr.Total <= 0 {
		return false
	}

	q := pr.totalRead * 4 / pr.Total
	if q > pr.quarter {
		pr.quarter = q
		return true
	}

	return false
}

func (pr *ProgressReader) report() {
	pr.sinceReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}
}
