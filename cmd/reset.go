package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetGallery bool
	resetAudit   bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Database, Gallery File, Audit Log)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetGallery && !resetAudit {
			resetDB = true
			resetGallery = true
			resetAudit = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetGallery && AppConfig.Gallery.File != "" {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", AppConfig.Gallery.File)) {
				fmt.Println("🗑️  Clearing Gallery File...")
				removeFile(AppConfig.Gallery.File)
			}
		}

		if resetAudit && AppConfig.Logging.AuditFile != "" {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", AppConfig.Logging.AuditFile)) {
				fmt.Println("🗑️  Clearing Audit Log...")
				removeFile(AppConfig.Logging.AuditFile)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "tables", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetGallery, "gallery-file", false, "Delete the gallery file")
	resetCmd.Flags().BoolVar(&resetAudit, "audit-log", false, "Delete the audit log file")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
