package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/output"
	"github.com/3leaps/forcedphot/pkg/photometry"
	"github.com/3leaps/forcedphot/pkg/targets"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Fetch forced photometry for every target in a list",
	Long: `Fetch forced photometry for each target in a YAML or JSON target list.

Each target names a position and either mjd_min (with optional mjd_max) or
a discovery_date. Targets run concurrently up to --concurrency. A failed
target is reported as an error record and the rest continue unless
--fail-fast is set. A batch summary record ends the output.

Example:
  forcedphot batch --targets transients.yaml
  forcedphot batch --targets transients.yaml --concurrency 4 -o out.jsonl
  forcedphot batch --targets transients.json --fail-fast`,
	RunE: runBatch,
}

var (
	batchTargetsPath string
	batchOutput      string
	batchConcurrency int
	batchFailFast    bool
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchTargetsPath, "targets", "t", "", "Path to target list (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Output destination (default: stdout)")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "Concurrent fetches (default: batch.concurrency)")
	batchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "Stop scheduling targets after the first failure")

	_ = batchCmd.MarkFlagRequired("targets")
}

// batchTally accumulates per-target outcomes.
type batchTally struct {
	mu  sync.Mutex
	sum output.BatchSummaryRecord
}

func (t *batchTally) success(res *atlas.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Succeeded++
	t.sum.Records += len(res.Records)
	if res.FromCache {
		t.sum.FromCache++
	}
}

func (t *batchTally) failure(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Failed++
	if t.sum.FailuresByCode == nil {
		t.sum.FailuresByCode = make(map[string]int)
	}
	t.sum.FailuresByCode[code]++
}

func (t *batchTally) skip(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Skipped += n
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	list, err := targets.Load(batchTargetsPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load targets",
			zap.String("path", batchTargetsPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid target list", err)
	}

	concurrency := appConfig.Batch.Concurrency
	if cmd.Flags().Changed("concurrency") {
		if batchConcurrency < 1 {
			return exitError(foundry.ExitInvalidArgument, "Invalid --concurrency value", fmt.Errorf("must be at least 1, got %d", batchConcurrency))
		}
		concurrency = batchConcurrency
	}

	sess := newSession(ctx, appConfig, observability.CLILogger)
	defer sess.Close()

	creds, err := sess.credentials()
	if err != nil {
		return err
	}

	w, cleanup, err := createWriter(batchOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	observability.CLILogger.Info("Starting batch",
		zap.String("path", batchTargetsPath),
		zap.Int("targets", len(list.Targets)),
		zap.Int("concurrency", concurrency))

	started := time.Now()
	tally, err := runTargets(ctx, sess, creds, list.Targets, w, concurrency, batchFailFast)

	sum := tally.sum
	sum.Targets = len(list.Targets)
	sum.Duration = time.Since(started)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	if werr := w.WriteBatchSummary(context.WithoutCancel(ctx), &sum); werr != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
	}

	observability.CLILogger.Info("Batch complete",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("from_cache", sum.FromCache),
		zap.Duration("elapsed", sum.Duration))

	if err != nil {
		return exitError(fetchExitCode(err), "Batch aborted", err)
	}
	if sum.Failed > 0 {
		return exitError(foundry.ExitFailure, "Batch incomplete", fmt.Errorf("%d of %d targets failed", sum.Failed, sum.Targets))
	}
	return nil
}

// runTargets fetches every target with at most limit in flight. With
// failFast the first failure cancels the remaining fetches and is
// returned; otherwise failures are recorded and nil is returned. Targets
// never started because of cancellation are counted as skipped.
func runTargets(ctx context.Context, sess *session, creds photometry.Credentials, list []targets.Target, w output.Writer, limit int, failFast bool) (*batchTally, error) {
	tally := &batchTally{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	now := time.Now().UTC()
	for i, t := range list {
		if gctx.Err() != nil {
			tally.skip(len(list) - i)
			break
		}
		g.Go(func() error {
			if failFast && gctx.Err() != nil {
				tally.skip(1)
				return nil
			}
			res, err := runTarget(gctx, sess, creds, t, now)
			if err != nil {
				tally.failure(atlas.ErrorCode(err))
				_ = writeFailure(context.WithoutCancel(gctx), w, t.Name, err)
				if failFast {
					return fmt.Errorf("target %q: %w", t.Name, err)
				}
				return nil
			}
			tally.success(res)
			if werr := writeResult(gctx, w, t.Name, res); werr != nil {
				return werr
			}
			return nil
		})
	}
	return tally, g.Wait()
}

func runTarget(ctx context.Context, sess *session, creds photometry.Credentials, t targets.Target, now time.Time) (*atlas.Result, error) {
	req, err := t.Request(now)
	if err != nil {
		return nil, err
	}
	return sess.fetcher.Fetch(ctx, creds, req)
}
