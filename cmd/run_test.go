package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/greeter/internal/audit"
	"github.com/andresmejia3/greeter/internal/config"
	"github.com/andresmejia3/greeter/internal/dispatch"
	"github.com/andresmejia3/greeter/internal/pipeline"
	"github.com/andresmejia3/greeter/internal/speech"
	"github.com/andresmejia3/greeter/internal/store"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/cobra"
)

func TestDatabaseURL(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	withGallery := config.Default()
	withGallery.Gallery.File = "gallery.yaml"

	tests := []struct {
		name string
		flag string
		cfg  *config.Config
		env  map[string]string
		need string
		want string
	}{
		{"command without db", "", config.Default(), nil, "", ""},
		{"flag wins", "postgres://flag/db", config.Default(), map[string]string{"POSTGRES_HOST": "env"}, dbOptional, "postgres://flag/db"},
		{"postgres env", "", config.Default(), map[string]string{
			"POSTGRES_HOST": "db", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "greeter",
		}, dbOptional, "postgres://u:p@db:5432/greeter"},
		{"local default", "", config.Default(), nil, dbOptional, "postgres://localhost:5432/greeter"},
		{"gallery file skips optional db", "", withGallery, nil, dbOptional, ""},
		{"gallery file still opens required db", "", withGallery, nil, dbRequired, "postgres://localhost:5432/greeter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env = tt.env
			if got := databaseURL(tt.flag, tt.cfg, getenv, tt.need); got != tt.want {
				t.Errorf("databaseURL() = %q, want %q", got, tt.want)
			}
		})
	}

	cfg := config.Default()
	cfg.Database.URL = "postgres://config/db"
	env = map[string]string{"POSTGRES_HOST": "env"}
	if got := databaseURL("", cfg, getenv, dbOptional); got != "postgres://config/db" {
		t.Errorf("config url should beat POSTGRES_* env, got %q", got)
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().AddFlagSet(runCmd.Flags())
	if err := cmd.Flags().Parse([]string{"--threshold", "0.55", "--mode", "door_line", "--no-tts", "-n", "2"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatalf("applyRunFlags() error = %v", err)
	}
	if cfg.Recognition.SimilarityThreshold != 0.55 || cfg.Greeting.Mode != "door_line" {
		t.Errorf("flags not applied: %+v %+v", cfg.Recognition, cfg.Greeting)
	}
	if cfg.TTS.Enabled || cfg.Camera.DetectEveryNFrames != 2 {
		t.Errorf("flags not applied: tts=%v nth=%d", cfg.TTS.Enabled, cfg.Camera.DetectEveryNFrames)
	}
	// Unset flags leave the config alone.
	if cfg.Greeting.CooldownSeconds != config.Default().Greeting.CooldownSeconds || cfg.Web.Addr != ":8090" {
		t.Errorf("unset flags changed config: %+v", cfg.Greeting)
	}
}

func TestApplyRunFlagsIgnoresOtherCommands(t *testing.T) {
	cfg := config.Default()
	if err := applyRunFlags(listCmd, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Recognition.SimilarityThreshold != config.Default().Recognition.SimilarityThreshold {
		t.Error("config changed by a command without run flags")
	}
}

func TestNewSpeakerDisabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Default()
	cfg.TTS.Enabled = false
	if _, ok := newSpeaker(cfg, logger).(speech.Log); !ok {
		t.Error("expected log speaker when tts is disabled")
	}
}

func TestPickFace(t *testing.T) {
	if _, err := pickFace(nil); !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}

	dets := []types.Detection{
		{Confidence: 0.7, Width: 80, Height: 80, Embedding: []float32{1, 0}},
		{Confidence: 0.9, Width: 40, Height: 40, Embedding: []float32{0, 1}},
		{Confidence: 0.9, Width: 60, Height: 60, Embedding: []float32{1, 1}},
	}
	best, err := pickFace(dets)
	if err != nil {
		t.Fatal(err)
	}
	if best.Width != 60 {
		t.Errorf("picked %+v, want the larger of the most confident faces", best)
	}

	if _, err := pickFace([]types.Detection{{Confidence: 1}}); err == nil {
		t.Error("expected error for a face without embedding")
	}
}

func TestWriteIdentities(t *testing.T) {
	var buf bytes.Buffer
	writeIdentities(&buf, []store.IdentitySummary{
		{ID: 1, Name: "Alice", Samples: 3, CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)},
		{ID: 2, Name: "Bob", Samples: 1},
	})
	out := buf.String()
	for _, want := range []string{"Alice", "2024-05-01 09:30", "Bob", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteEvents(t *testing.T) {
	var buf bytes.Buffer
	writeEvents(&buf, []types.Event{
		{Kind: types.Entry, Name: "Alice", Score: 0.61, Text: "Hey Alice, welcome!", Timestamp: time.Now()},
		{Kind: types.Exit, Name: "Alice", Score: 0.61, Text: "Bye Alice, see you later!", Forced: true, Timestamp: time.Now()},
	})
	out := buf.String()
	if !strings.Contains(out, "Hey Alice, welcome!") || !strings.Contains(out, "EXIT*") {
		t.Errorf("unexpected events table:\n%s", out)
	}
}

func TestPrintRunSummary(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := audit.New(nil, nil, 4, logger)
	rec.Record(types.Event{Kind: types.Entry, Name: "Alice"})

	var buf bytes.Buffer
	printRunSummary(&buf,
		pipeline.Stats{Frames: 40, Events: 2, AnalyzeErrors: 1},
		pipeline.CaptureStats{Read: 120, Admitted: 40, Dropped: 3},
		dispatch.Stats{Spoken: 2},
		rec,
	)
	out := buf.String()
	for _, want := range []string{"120 / 40", "3 dropped", "Analyze errors: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
