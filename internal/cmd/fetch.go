package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/forcedphot/internal/observability"
	"github.com/3leaps/forcedphot/pkg/targets"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch forced photometry for one position",
	Long: `Fetch forced photometry for one sky position and MJD window.

The window starts at --mjd-min, or 100 days before --discovery-date. It
ends at --mjd-max, 365 days after the discovery date, or now, whichever
applies first.

Example:
  forcedphot fetch --ra 210.774625 --dec 54.273719 --discovery-date 2011-08-24
  forcedphot fetch --ra 12.5 --dec -33.1 --mjd-min 60000 --mjd-max 60100 -o sn.jsonl
  forcedphot fetch --ra 12.5 --dec -33.1 --mjd-min 60000 --no-cache`,
	RunE: runFetch,
}

var (
	fetchName          string
	fetchRA            float64
	fetchDec           float64
	fetchMJDMin        float64
	fetchMJDMax        float64
	fetchDiscoveryDate string
	fetchOutput        string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchName, "name", "", "Target name recorded in output")
	fetchCmd.Flags().Float64Var(&fetchRA, "ra", 0, "Right ascension in degrees [0, 360) (required)")
	fetchCmd.Flags().Float64Var(&fetchDec, "dec", 0, "Declination in degrees [-90, 90] (required)")
	fetchCmd.Flags().Float64Var(&fetchMJDMin, "mjd-min", 0, "Window start (MJD)")
	fetchCmd.Flags().Float64Var(&fetchMJDMax, "mjd-max", 0, "Window end (MJD, default: now)")
	fetchCmd.Flags().StringVar(&fetchDiscoveryDate, "discovery-date", "", "Discovery date (YYYY-MM-DD or RFC3339) anchoring the window")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Output destination (default: stdout)")

	_ = fetchCmd.MarkFlagRequired("ra")
	_ = fetchCmd.MarkFlagRequired("dec")
	fetchCmd.MarkFlagsOneRequired("mjd-min", "discovery-date")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	target := fetchTarget(cmd)
	req, err := target.Request(time.Now().UTC())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid request", err)
	}

	sess := newSession(ctx, appConfig, observability.CLILogger)
	defer sess.Close()

	creds, err := sess.credentials()
	if err != nil {
		return err
	}

	w, cleanup, err := createWriter(fetchOutput)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	observability.CLILogger.Info("Fetching photometry",
		zap.String("target", target.Name),
		zap.Float64("ra", req.RA),
		zap.Float64("dec", req.Dec),
		zap.Float64("mjd_min", req.Window.Min))

	res, err := sess.fetcher.Fetch(ctx, creds, req)
	if err != nil {
		_ = writeFailure(context.WithoutCancel(ctx), w, fetchName, err)
		return exitError(fetchExitCode(err), "Fetch failed", err)
	}

	if err := writeResult(ctx, w, fetchName, res); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

// fetchTarget builds a target from the fetch flags.
func fetchTarget(cmd *cobra.Command) targets.Target {
	t := targets.Target{
		Name:          fetchName,
		RA:            fetchRA,
		Dec:           fetchDec,
		DiscoveryDate: fetchDiscoveryDate,
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("%.6f%+.6f", fetchRA, fetchDec)
	}
	if cmd.Flags().Changed("mjd-min") {
		lo := fetchMJDMin
		t.MJDMin = &lo
	}
	if cmd.Flags().Changed("mjd-max") {
		hi := fetchMJDMax
		t.MJDMax = &hi
	}
	return t
}
