package leaderboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/cmd/util"
	"github.com/mpapenbr/racestate-live/pkg/model"
	"github.com/mpapenbr/racestate-live/pkg/processing/race"
	"github.com/mpapenbr/racestate-live/pkg/store"
)

var (
	sessionID       string
	battleThreshold float64
)

// Source is the subset of api.Client used for the one-shot view
type Source interface {
	GetDrivers(ctx context.Context) ([]model.Driver, error)
	GetSessions(ctx context.Context) ([]model.Session, error)
	GetLeaderboard(ctx context.Context, sessionID string) ([]model.LeaderboardEntry, error)
}

func NewLeaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "pulls the leaderboard once and prints gaps and battles",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.GetFromContext(cmd.Context()).Named("leaderboard")
			client, err := util.NewBackendClient(cmd.Context(), logger)
			if err != nil {
				return err
			}
			v, err := BuildView(cmd.Context(), client, sessionID,
				race.WithBattleThreshold(battleThreshold))
			if err != nil {
				return err
			}
			PrintView(os.Stdout, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "",
		"session id (required)")
	cmd.Flags().Float64Var(&battleThreshold, "battle-threshold",
		race.DefaultBattleThreshold,
		"gap in seconds below which adjacent drivers are in a battle")
	//nolint:errcheck // flag is defined above
	cmd.MarkFlagRequired("session")
	return cmd
}

// BuildView pulls roster, sessions and the leaderboard of sessionID and derives the view
//
//nolint:whitespace // can't make both editor and linter happy
func BuildView(ctx context.Context, src Source, sessionID string,
	opts ...race.ViewOption,
) (*race.RaceView, error) {
	s := store.New()
	defer s.Close()

	drivers, err := src.GetDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load drivers: %w", err)
	}
	sessions, err := src.GetSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	s.SetSessions(sessions)
	if err := s.SetRoster(drivers); err != nil {
		return nil, err
	}
	if _, err := s.SetActiveSession(sessionID); err != nil {
		return nil, err
	}
	entries, err := src.GetLeaderboard(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	if err := s.ReplaceLeaderboard(sessionID, entries); err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	return race.BuildView(&snap, opts...), nil
}

func PrintView(w io.Writer, v *race.RaceView) {
	title := v.SessionID
	if v.SessionName != "" {
		title = fmt.Sprintf("%s (%s)", v.SessionName, v.SessionID)
	}
	fmt.Fprintln(w, title)
	if len(v.Entries) == 0 {
		fmt.Fprintln(w, "No data yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tNO\tDRIVER\tTEAM\tLAST\tBEST\tLAPS\tGAP")
	for i := range v.Entries {
		e := &v.Entries[i]
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Position, e.Driver.Number, e.Driver.Name, e.Driver.Team,
			race.FormatLapTime(e.LastLap), race.FormatLapTime(e.BestLap),
			e.LapsCompleted, e.Gap)
	}
	tw.Flush()
	for _, b := range v.CloseBattles() {
		fmt.Fprintf(w, "Battle for P%d: %s vs %s (%.3fs)\n",
			b.Position, b.Ahead.Name, b.Behind.Name, b.Gap)
	}
}
