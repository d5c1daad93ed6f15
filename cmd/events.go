package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/spf13/cobra"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:         "events",
	Short:       "Show the most recent greetings and farewells",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runEvents(cmd.Context())
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "l", 20, "Number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(ctx context.Context) {
	evs, err := DB.ListEvents(ctx, eventsLimit)
	if err != nil {
		utils.Die("Failed to list events", err, nil)
	}
	if len(evs) == 0 {
		fmt.Println("No greetings recorded yet.")
		return
	}
	writeEvents(os.Stdout, evs)
}

func writeEvents(out io.Writer, evs []types.Event) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tNAME\tSIMILARITY\tUTTERANCE")
	fmt.Fprintln(w, "----\t----\t----\t----------\t---------")
	for _, ev := range evs {
		kind := string(ev.Kind)
		if ev.Forced {
			kind += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\n",
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			kind,
			ev.Name,
			ev.Score,
			ev.Text,
		)
	}
	w.Flush()
}
