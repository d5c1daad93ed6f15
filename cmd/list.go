package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/greeter/internal/store"
	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List all enrolled identities",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	rows, err := listIdentities(ctx)
	if err != nil {
		utils.Die("Failed to list identities", err, nil)
	}

	if len(rows) == 0 {
		fmt.Println("No identities enrolled yet.")
		return
	}
	writeIdentities(os.Stdout, rows)
}

// listIdentities reads the summary from Postgres, or derives it from the
// gallery file, which records no creation time.
func listIdentities(ctx context.Context) ([]store.IdentitySummary, error) {
	if DB != nil {
		return DB.ListIdentities(ctx)
	}
	ids, err := identitySource().AllIdentities(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]store.IdentitySummary, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, store.IdentitySummary{ID: id.ID, Name: id.Name, Samples: len(id.Embeddings)})
	}
	return rows, nil
}

func writeIdentities(out io.Writer, rows []store.IdentitySummary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSAMPLES\tENROLLED")
	fmt.Fprintln(w, "--\t----\t-------\t--------")

	for _, id := range rows {
		enrolled := "-"
		if !id.CreatedAt.IsZero() {
			enrolled = id.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", id.ID, id.Name, id.Samples, enrolled)
	}
	w.Flush()
}
