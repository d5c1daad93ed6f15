package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/spf13/cobra"
)

var forgetYes bool

var forgetCmd = &cobra.Command{
	Use:         "forget <identity_id>",
	Short:       "Delete an identity and all of its reference photos",
	Long:        "Past greeting events keep the name they were recorded with.",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.Die("Invalid identity ID", err, nil)
		}
		runForget(cmd.Context(), id)
	},
}

func init() {
	forgetCmd.Flags().BoolVarP(&forgetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(forgetCmd)
}

func runForget(ctx context.Context, id int) {
	if !forgetYes && !confirm(bufio.NewReader(os.Stdin), fmt.Sprintf("⚠️  Delete identity %d and its embeddings?", id)) {
		fmt.Println("Aborted.")
		return
	}
	if err := DB.DeleteIdentity(ctx, id); err != nil {
		utils.Die("Failed to delete identity", err, nil)
	}
	fmt.Printf("🗑️  Identity %d forgotten\n", id)
}
