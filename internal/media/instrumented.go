package media

import (
	"context"

	"github.com/italolelis/media_downloader/internal/telemetry"
)

// InstrumentedEngine wraps an Engine with spans and engine operation metrics.
type InstrumentedEngine struct {
	engine    Engine
	name      string
	telemetry *telemetry.Telemetry
}

// NewInstrumentedEngine creates a new instrumented engine. name is used as
// the engine label, for example "yt-dlp".
func NewInstrumentedEngine(engine Engine, name string, tel *telemetry.Telemetry) *InstrumentedEngine {
	return &InstrumentedEngine{
		engine:    engine,
		name:      name,
		telemetry: tel,
	}
}

func (e *InstrumentedEngine) Extract(ctx context.Context, url string) (*Metadata, error) {
	var info *Metadata

	err := e.telemetry.InstrumentEngineOperation(ctx, e.name, "extract", func(ctx context.Context) error {
		var err error

		info, err = e.engine.Extract(ctx, url)

		return err
	})

	return info, err
}

func (e *InstrumentedEngine) Download(ctx context.Context, url, selector, outputTemplate string) (*DownloadResult, error) {
	var res *DownloadResult

	err := e.telemetry.InstrumentEngineOperation(ctx, e.name, "download", func(ctx context.Context) error {
		var err error

		res, err = e.engine.Download(ctx, url, selector, outputTemplate)

		return err
	})

	return res, err
}
