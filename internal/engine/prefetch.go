package engine

import (
	"context"
	"sync"

	"github.com/mohammed-shakir/tilegraph/internal/progress"
	"github.com/mohammed-shakir/tilegraph/internal/raster"
)

// Prefetch resolves channels of node for every rectangle with a bounded
// pool of workers. The first failure cancels the remaining work and is
// returned.
func (r *Run) Prefetch(ctx context.Context, node string, channels []string, rects []raster.Rectangle, workers int, pm progress.Monitor) error {
	if len(rects) == 0 {
		return nil
	}
	pm = progress.OrNull(pm)
	workerN := workers
	if workerN <= 0 {
		workerN = 1
	}
	workerN = min(workerN, len(rects))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		rect raster.Rectangle
		pm   progress.Monitor
	}
	jobs := make(chan job)

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if _, err := r.Tiles(ctx, node, channels, j.rect, j.pm); err != nil {
					fail(err)
					continue
				}
				j.pm.Worked(1)
			}
		}()
	}

	share := 1 / float64(len(rects))
feed:
	for _, rc := range rects {
		select {
		case jobs <- job{rect: rc, pm: pm.Sub(share)}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return progress.Canceled(err)
	}
	return nil
}
