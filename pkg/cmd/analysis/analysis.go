package analysis

import (
	"context"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/api"
	"github.com/mpapenbr/racestate-live/pkg/cmd/util"
)

var (
	sessionID string
	lap       int
)

func NewAnalysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "on demand driver analysis from the backend",
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id (required)")
	//nolint:errcheck // flag is defined above
	cmd.MarkPersistentFlagRequired("session")

	cmd.AddCommand(newDriverCmd())
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newTelemetryCmd())
	return cmd
}

func newDriverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "driver driverId",
		Short: "braking points, throttle control, corner speeds and speed map of a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *api.Client) (any, error) {
				return c.GetDriverAnalysis(ctx, sessionID, args[0])
			})
		},
	}
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare driverId driverId",
		Short: "compares lap and speed statistics of two drivers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *api.Client) (any, error) {
				return c.GetDriverComparison(ctx, sessionID, args[0], args[1])
			})
		},
	}
}

func newTelemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry driverId",
		Short: "recorded telemetry of a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *api.Client) (any, error) {
				return c.GetTelemetry(ctx, sessionID, args[0], lap)
			})
		},
	}
	cmd.Flags().IntVar(&lap, "lap", 0, "restrict to this lap (0 = all laps)")
	return cmd
}

//nolint:whitespace // can't make both editor and linter happy
func withClient(cmd *cobra.Command,
	fetch func(ctx context.Context, c *api.Client) (any, error),
) error {
	logger := log.GetFromContext(cmd.Context()).Named("analysis")
	client, err := util.NewBackendClient(cmd.Context(), logger)
	if err != nil {
		return err
	}
	data, err := fetch(cmd.Context(), client)
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
