package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/greeter/internal/config"
	"github.com/andresmejia3/greeter/internal/gallery"
	"github.com/andresmejia3/greeter/internal/matcher"
	"github.com/andresmejia3/greeter/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dbAnnotation marks how much a command needs Postgres.
const (
	dbAnnotation = "db"
	dbOptional   = "optional" // used unless a gallery file is configured
	dbRequired   = "required"
)

var (
	// DB is the global database connection shared by subcommands. Nil when
	// identities come from a gallery file.
	DB *store.Store
	// AppConfig is the validated configuration.
	AppConfig *config.Config

	logger = logrus.New()

	cfgFile     string
	dbURL       string
	galleryFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "greeter",
	Short:   "Camera-driven face greeter with spoken welcomes and farewells",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if galleryFile != "" {
			cfg.Gallery.File = galleryFile
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.ConfigureLogger(logger); err != nil {
			return err
		}
		AppConfig = cfg

		url := databaseURL(dbURL, cfg, os.Getenv, cmd.Annotations[dbAnnotation])
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// databaseURL picks the connection string: the --db flag, then the config
// file (or GREETER_DATABASE_URL), then POSTGRES_* variables. need is the
// command's db annotation; an empty result means no database is opened.
func databaseURL(flag string, cfg *config.Config, getenv func(string) string, need string) string {
	if need == "" {
		return ""
	}
	if flag != "" {
		return flag
	}
	if cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	if host := getenv("POSTGRES_HOST"); host != "" {
		user := getenv("POSTGRES_USER")
		pass := getenv("POSTGRES_PASSWORD")
		name := getenv("POSTGRES_DB")
		port := getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	if cfg.Gallery.File != "" && need != dbRequired {
		return ""
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/greeter"
}

// identitySource returns where enrolled identities live for this invocation.
func identitySource() matcher.Source {
	if DB != nil {
		return DB
	}
	return gallery.NewFileSource(AppConfig.Gallery.File)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to greeter.yaml (defaults are used when omitted)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/greeter)")
	rootCmd.PersistentFlags().StringVar(&galleryFile, "gallery", "", "Read identities from this YAML file instead of PostgreSQL")
}
