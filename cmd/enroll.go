package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/greeter/internal/gallery"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/andresmejia3/greeter/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:         "enroll <name> <image_path>...",
	Short:       "Add reference photos of a person to the gallery",
	Long:        "Each image must show the person's face. When an image contains several faces the most confident one is used.",
	Args:        cobra.MinimumNArgs(2),
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEnroll(cmd.Context(), args[0], args[1:])
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

// ErrNoFace is returned when an image holds no usable face.
var ErrNoFace = errors.New("no face detected")

// enroller persists one reference embedding and returns the identity id.
type enroller func(ctx context.Context, name string, vec []float32) (int, error)

func currentEnroller() enroller {
	if DB != nil {
		return func(ctx context.Context, name string, vec []float32) (int, error) {
			id, _, err := DB.Enroll(ctx, name, vec)
			return id, err
		}
	}
	src := gallery.NewFileSource(AppConfig.Gallery.File)
	return func(_ context.Context, name string, vec []float32) (int, error) {
		return src.AddEmbedding(name, vec)
	}
}

func runEnroll(ctx context.Context, name string, images []string) error {
	for _, path := range images {
		if _, err := os.Stat(path); err != nil {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(0, workerConfig(AppConfig))
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	save := currentEnroller()
	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("📸 Enrolling "+name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var (
		id      int
		added   int
		skipped []string
	)
	for _, path := range images {
		face, err := detectFace(ctx, w, path)
		bar.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			skipped = append(skipped, fmt.Sprintf("%s (%v)", path, err))
			continue
		}
		id, err = save(ctx, name, face.Embedding)
		if err != nil {
			utils.ShowError("Failed to save embedding", err, nil)
			return err
		}
		added++
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	for _, s := range skipped {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped %s\n", s)
	}
	if added == 0 {
		return fmt.Errorf("nothing enrolled for %s: %w", name, ErrNoFace)
	}
	fmt.Printf("✅ Enrolled %d sample(s) for '%s' (ID: %d)\n", added, name, id)
	return nil
}

// detectFaces runs one image through the worker.
func detectFaces(ctx context.Context, w *worker.PythonWorker, path string) ([]types.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, _, err := utils.FrameSize(data); err != nil {
		return nil, err
	}
	obs, err := w.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	return obs.Detections, nil
}

// detectFace returns the best face in one image.
func detectFace(ctx context.Context, w *worker.PythonWorker, path string) (types.Detection, error) {
	dets, err := detectFaces(ctx, w, path)
	if err != nil {
		return types.Detection{}, err
	}
	return pickFace(dets)
}

// pickFace prefers the most confident detection, then the larger box.
func pickFace(dets []types.Detection) (types.Detection, error) {
	if len(dets) == 0 {
		return types.Detection{}, ErrNoFace
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence ||
			(d.Confidence == best.Confidence && d.Width*d.Height > best.Width*best.Height) {
			best = d
		}
	}
	if err := types.ValidateEmbedding(best.Embedding); err != nil {
		return types.Detection{}, err
	}
	return best, nil
}
