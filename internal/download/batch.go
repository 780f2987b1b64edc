package download

import (
	"context"
	"time"

	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one download in a batch.
type Outcome struct {
	Request Request
	Record  *database.DownloadRecord
	Err     error
}

// SinkFunc returns the progress sink for the i-th request of a batch.
// It may return nil.
type SinkFunc func(i int, req Request) transfer.ProgressSink

// DownloadAll downloads reqs concurrently, at most the configured
// concurrency at a time.
//
// A failed download does not stop the others; its error is stored in the
// corresponding Outcome. Outcomes are in request order. The returned error
// is non-nil only when ctx ended before every download started.
func (d *Downloader) DownloadAll(ctx context.Context, reqs []Request, sinkFor SinkFunc) ([]Outcome, error) {
	d.logger.Info("starting batch download",
		"total", len(reqs),
		"concurrency", d.concurrency,
	)
	startTime := time.Now()

	outcomes := make([]Outcome, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, req := range reqs {
		outcomes[i].Request = req

		g.Go(func() error {
			select {
			case <-ctx.Done():
				outcomes[i].Err = ctx.Err()
				return ctx.Err()
			default:
			}

			var sink transfer.ProgressSink
			if sinkFor != nil {
				sink = sinkFor(i, req)
			}

			// Each goroutine owns outcomes[i], so no lock is needed.
			outcomes[i].Record, outcomes[i].Err = d.Download(ctx, req, sink)
			return nil
		})
	}

	err := g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	d.logger.Info("batch download complete",
		"total", len(reqs),
		"failed", failed,
		"elapsed", time.Since(startTime),
	)

	return outcomes, err
}
