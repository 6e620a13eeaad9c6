package watch

import (
	"context"
	"log/slog"

	"github.com/54b3r/ragindex-go/internal/extract"
	"github.com/54b3r/ragindex-go/internal/ingestion"
)

// Processor is the subset of *ingestion.Processor a sink drives.
type Processor interface {
	Process(ctx context.Context, doc ingestion.Document) ingestion.Result
	Purge(ctx context.Context, sourceID string) (int, error)
}

// ProcessorSink returns a Sink that extracts and reprocesses changed files
// and purges removed ones. Failures are logged and the next change is
// handled.
func ProcessorSink(proc Processor, log *slog.Logger) Sink {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, changes []Change) {
		for _, c := range changes {
			if ctx.Err() != nil {
				return
			}
			l := log.With(slog.String("source_id", c.SourceID))

			if c.Removed {
				if _, err := proc.Purge(ctx, c.SourceID); err != nil {
					l.Error("watch: purge failed", slog.String("error", err.Error()))
				}
				continue
			}

			content, err := extract.File(c.Path, l)
			if err != nil {
				l.Error("watch: extraction failed", slog.String("error", err.Error()))
				continue
			}
			res := proc.Process(ctx, ingestion.Document{
				SourceID: c.SourceID,
				Text:     content.Text,
				Pages:    content.Pages,
			})
			if !res.Success {
				l.Warn("watch: reprocessing incomplete", slog.String("error", res.Error))
			}
		}
	}
}
