package sessions

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/racestate-live/log"
	"github.com/mpapenbr/racestate-live/pkg/cmd/util"
	"github.com/mpapenbr/racestate-live/pkg/model"
)

func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "lists the sessions known to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.GetFromContext(cmd.Context()).Named("sessions")
			client, err := util.NewBackendClient(cmd.Context(), logger)
			if err != nil {
				return err
			}
			sessions, err := client.GetSessions(cmd.Context())
			if err != nil {
				return err
			}
			PrintSessions(os.Stdout, sessions)
			return nil
		},
	}
	return cmd
}

func PrintSessions(w io.Writer, sessions []model.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCIRCUIT\tDATE\tSTATUS\tDRIVERS")
	for i := range sessions {
		s := &sessions[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.Name, s.Circuit, s.Date, s.Status, len(s.Drivers))
	}
	tw.Flush()
}
