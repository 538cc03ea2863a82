package verify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const DefaultBatchConcurrency = 4

// BatchOptions controls a batch verification run.
type BatchOptions struct {
	MaxConcurrency int
	// Deep rehashes the file next to each sidecar instead of the recorded
	// artifact.path.
	Deep      bool
	SkipCache bool
}

// BatchVerify runs the full pipeline over every sidecar path with a bounded
// worker pool. One item's failure never aborts the others: verification
// outcomes land in per-item results, and workers only stop early on context
// cancellation.
func (v *Verifier) BatchVerify(ctx context.Context, paths []string, opts BatchOptions) BatchResult {
	limit := opts.MaxConcurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	results := make([]Result, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				res := Result{Path: p}
				res.fail(ExitMissing, "verification canceled: "+err.Error())
				results[i] = res
				return err
			}
			results[i] = v.VerifyAttestation(p, Options{Deep: opts.Deep, SkipCache: opts.SkipCache})
			return nil
		})
	}
	_ = eg.Wait()

	out := BatchResult{Total: len(paths), Results: results}
	var elapsed float64
	for _, r := range results {
		if r.Verified {
			out.Verified++
		} else {
			out.Failed++
		}
		elapsed += r.ElapsedMS
	}
	if len(results) > 0 {
		out.AverageTimeMS = elapsed / float64(len(results))
	}
	return out
}
