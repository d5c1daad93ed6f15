package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/greeter/internal/matcher"
	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/andresmejia3/greeter/internal/worker"
	"github.com/spf13/cobra"
)

var identifyTopK int

var identifyCmd = &cobra.Command{
	Use:         "identify <image_path>",
	Short:       "Show who the greeter would recognize in a photo",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0])
	},
}

func init() {
	identifyCmd.Flags().Float64P("threshold", "t", 0, "Similarity threshold (overrides recognition.similarity_threshold)")
	identifyCmd.Flags().IntVarP(&identifyTopK, "top", "k", 3, "Number of candidates to list")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	m := matcher.New(AppConfig.Recognition.SimilarityThreshold, logger)
	if err := matcher.NewReloader(identitySource(), m).Reload(ctx); err != nil {
		if errors.Is(err, matcher.ErrStoreUnavailable) {
			fmt.Println("❌ No enrolled identities to compare against.")
			return nil
		}
		utils.ShowError("Failed to load gallery", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(0, workerConfig(AppConfig))
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	faces, err := detectFaces(ctx, w, imagePath)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}
	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	out := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(out, "FACE\tCENTER\tRESULT\tID\tNAME\tSIMILARITY")
	fmt.Fprintln(out, "----\t------\t------\t--\t----\t----------")
	for i, face := range faces {
		center := fmt.Sprintf("%.0f,%.0f", face.Center.X, face.Center.Y)
		best, err := m.Match(face.Embedding)
		if err != nil {
			fmt.Fprintf(out, "%d\t%s\trejected: %v\t\t\t\n", i+1, center, err)
			continue
		}
		if best.Known() {
			fmt.Fprintf(out, "%d\t%s\trecognized\t%d\t%s\t%.3f\n", i+1, center, best.IdentityID, best.Name, best.Score)
		} else {
			fmt.Fprintf(out, "%d\t%s\tunknown\t\t\t%.3f\n", i+1, center, best.Score)
		}

		candidates, err := m.TopK(face.Embedding, identifyTopK)
		if err != nil {
			continue
		}
		for _, c := range candidates {
			fmt.Fprintf(out, "\t\t\t%d\t%s\t%.3f\n", c.IdentityID, c.Name, c.Score)
		}
	}
	if err := out.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nThreshold: %.2f\n", m.Threshold())
	return nil
}
