package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <identity_id> <name>",
	Short:       "Rename an enrolled identity (the name spoken in greetings)",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.Die("Invalid identity ID", err, nil)
		}
		name := args[1]

		runLabel(cmd.Context(), id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id int, name string) {
	if name == "" {
		utils.Die("Invalid name", fmt.Errorf("name must not be empty"), nil)
	}

	if err := DB.RenameIdentity(ctx, id, name); err != nil {
		utils.Die("Failed to label identity", err, nil)
	}

	fmt.Printf("✅ Identity %d labeled as '%s'\n", id, name)
}
