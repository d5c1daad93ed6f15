package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/greeter/internal/audit"
	"github.com/andresmejia3/greeter/internal/config"
	"github.com/andresmejia3/greeter/internal/dispatch"
	"github.com/andresmejia3/greeter/internal/gallery"
	"github.com/andresmejia3/greeter/internal/matcher"
	"github.com/andresmejia3/greeter/internal/pipeline"
	"github.com/andresmejia3/greeter/internal/speech"
	"github.com/andresmejia3/greeter/internal/types"
	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/andresmejia3/greeter/internal/web"
	"github.com/andresmejia3/greeter/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Watch the camera and greet people as they arrive and leave",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runGreeter(cmd.Context(), AppConfig)
	},
}

func init() {
	runCmd.Flags().StringP("source", "s", "", "Camera index, device, file or rtsp:// url (overrides camera.source)")
	runCmd.Flags().IntP("nth-frame", "n", 0, "Analyze every nth captured frame (overrides camera.detect_every_n_frames)")
	runCmd.Flags().Float64P("threshold", "t", 0, "Similarity threshold (overrides recognition.similarity_threshold)")
	runCmd.Flags().StringP("mode", "m", "", "presence or door_line (overrides greeting.mode)")
	runCmd.Flags().Float64("cooldown", 0, "Seconds between repeat greetings per person (overrides greeting.cooldown_seconds)")
	runCmd.Flags().Bool("no-tts", false, "Log greetings instead of speaking them")
	runCmd.Flags().String("web-addr", "", "Status API address, empty string disables it (overrides web.addr)")
	runCmd.Flags().String("audit-file", "", "Append the greeting audit trail to this file (overrides logging.audit_file)")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags copies explicitly set command flags over the loaded config.
// Flags a command does not define are never Changed, so this is safe for all.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("source", func() (e error) { cfg.Camera.Source, e = f.GetString("source"); return })
	set("nth-frame", func() (e error) { cfg.Camera.DetectEveryNFrames, e = f.GetInt("nth-frame"); return })
	set("threshold", func() (e error) { cfg.Recognition.SimilarityThreshold, e = f.GetFloat64("threshold"); return })
	set("mode", func() (e error) { cfg.Greeting.Mode, e = f.GetString("mode"); return })
	set("cooldown", func() (e error) { cfg.Greeting.CooldownSeconds, e = f.GetFloat64("cooldown"); return })
	set("web-addr", func() (e error) { cfg.Web.Addr, e = f.GetString("web-addr"); return })
	set("audit-file", func() (e error) { cfg.Logging.AuditFile, e = f.GetString("audit-file"); return })
	set("no-tts", func() error {
		noTTS, e := f.GetBool("no-tts")
		cfg.TTS.Enabled = !noTTS
		return e
	})
	return err
}

// newSpeaker returns the platform voice, or the log speaker when speech is
// disabled or the voice program is missing.
func newSpeaker(cfg *config.Config, log logrus.FieldLogger) dispatch.Speaker {
	if !cfg.TTS.Enabled {
		return speech.Log{Logger: log}
	}
	voice := speech.NewCommand(speech.Options{Rate: cfg.TTS.Rate, Volume: cfg.TTS.Volume, Voice: cfg.TTS.Voice})
	if err := voice.Check(); err != nil {
		log.WithError(err).Warn("speech backend unavailable, greetings will only be logged")
		return speech.Log{Logger: log}
	}
	return voice
}

// watchGallery keeps the matcher in sync with the identity source: file
// galleries are watched, databases polled, and SIGHUP forces a reload.
func watchGallery(ctx context.Context, cfg *config.Config, reload func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reload()
			}
		}
	}()

	if DB == nil {
		go func() {
			if err := gallery.Watch(ctx, cfg.Gallery.File, 500*time.Millisecond, reload, logger); err != nil {
				logger.WithError(err).Warn("gallery file watch stopped")
			}
		}()
		return
	}
	go gallery.Poll(ctx, cfg.ReloadInterval(), reload)
}

func runGreeter(ctx context.Context, cfg *config.Config) error {
	log := logger.WithField("component", "run")

	// 1. Gallery
	m := matcher.New(cfg.Recognition.SimilarityThreshold, logger)
	reloader := matcher.NewReloader(identitySource(), m)
	reload := func() {
		if err := reloader.Reload(ctx); err != nil {
			log.WithError(err).Warn("gallery reload")
		}
	}
	reload()
	if m.Gallery().Empty() {
		fmt.Fprintln(os.Stderr, "⚠️  No enrolled identities yet. Everyone will be unknown until you run 'greeter enroll'.")
	}
	watchGallery(ctx, cfg, reload)

	// 2. Speech
	dispatcher := dispatch.New(newSpeaker(cfg, logger), logger)
	dispatcher.Start(ctx)

	// 3. Pipeline and event sinks
	p, err := pipeline.New(cfg.Pipeline(), m, dispatcher, nil, logger)
	if err != nil {
		dispatcher.Close(context.Background())
		return err
	}

	var eventStore audit.EventStore
	if DB != nil {
		eventStore = DB
	}
	var trail logrus.FieldLogger
	if cfg.Logging.AuditFile != "" {
		f, err := os.OpenFile(cfg.Logging.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			dispatcher.Close(context.Background())
			return fmt.Errorf("failed to open audit file: %w", err)
		}
		defer f.Close()
		trail = audit.NewTrailLogger(f)
	}
	recorder := audit.New(eventStore, trail, 256, logger)
	p.AddSink(recorder)

	feed := web.NewFeed(200)
	p.AddSink(feed)

	if cfg.Web.Addr != "" {
		srv := web.NewServer(cfg.Web.Addr, p, dispatcher, feed, logger)
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("status API stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// 4. Inference worker
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(0, workerConfig(cfg))
	if err != nil {
		dispatcher.Close(context.Background())
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	// 5. Capture
	ffmpeg := utils.NewFFmpegCaptureCmd(ctx, utils.CaptureOptions{
		Source: cfg.Camera.Source,
		FPS:    float64(cfg.Camera.FPS),
		Width:  cfg.Camera.Width,
	})
	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		dispatcher.Close(context.Background())
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		dispatcher.Close(context.Background())
		utils.ShowError("Failed to start FFmpeg", err, ffmpeg)
		return err
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("👀 Greeter watching"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(250*time.Millisecond),
	)

	frames := make(chan types.FrameTask, cfg.Camera.QueueSize)
	type captureResult struct {
		stats   pipeline.CaptureStats
		err     error
		waitErr error
	}
	captured := make(chan captureResult, 1)
	go func() {
		st, err := pipeline.Capture(ctx, ffmpegOut, frames, cfg.Camera.DetectEveryNFrames, func(pipeline.CaptureStats) { bar.Add(1) })
		close(frames)
		captured <- captureResult{stats: st, err: err, waitErr: ffmpeg.Wait()}
	}()

	// 6. Greet until Ctrl+C or the source ends; Run flushes farewells and drains speech.
	runErr := p.Run(ctx, frames, w)
	res := <-captured
	bar.Finish()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.Close(closeCtx); err != nil {
		log.WithError(err).Warn("audit backlog not fully written")
	}

	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		utils.ShowError("Frame capture failed", res.err, ffmpeg)
	} else if res.waitErr != nil && ctx.Err() == nil {
		utils.ShowError("FFmpeg execution failed", res.waitErr, ffmpeg)
	}

	printRunSummary(os.Stderr, p.Stats(), res.stats, dispatcher.Stats(), recorder)
	return runErr
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Python:             cfg.Worker.Python,
		Script:             cfg.Worker.Script,
		Timeout:            cfg.WorkerTimeout(),
		DetectionThreshold: cfg.Worker.MinConfidence,
	}
}

func printRunSummary(out io.Writer, ps pipeline.Stats, cs pipeline.CaptureStats, ds dispatch.Stats, rec *audit.Recorder) {
	written, dropped, failed := rec.Counts()
	fmt.Fprintf(out, "\n---------------------------------------------------------\n")
	fmt.Fprintf(out, "📊 GREETER SUMMARY\n")
	fmt.Fprintf(out, "---------------------------------------------------------\n")
	fmt.Fprintf(out, "🎞️  Frames read / analyzed:   %d / %d (%d dropped while busy)\n", cs.Read, ps.Frames, cs.Dropped)
	fmt.Fprintf(out, "👋 Greetings emitted:        %d\n", ps.Events)
	fmt.Fprintf(out, "🔊 Spoken / failed:          %d / %d\n", ds.Spoken, ds.Failed)
	fmt.Fprintf(out, "🗄️  Audit written / dropped:  %d / %d (%d failed)\n", written, dropped, failed)
	if ps.AnalyzeErrors > 0 || ps.Rejected > 0 {
		fmt.Fprintf(out, "⚠️  Analyze errors: %d, rejected detections: %d\n", ps.AnalyzeErrors, ps.Rejected)
	}
	fmt.Fprintf(out, "---------------------------------------------------------\n")
}
