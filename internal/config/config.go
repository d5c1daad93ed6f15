// Package config loads greeter.yaml, applies .env and GREETER_* overrides and
// validates the result before anything starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/greeter/internal/doorline"
	"github.com/andresmejia3/greeter/internal/events"
	"github.com/andresmejia3/greeter/internal/pipeline"
	"github.com/andresmejia3/greeter/internal/tracker"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "GREETER_"

type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Worker      WorkerConfig      `yaml:"face_detection"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Greeting    GreetingConfig    `yaml:"greeting"`
	DoorLine    DoorLineConfig    `yaml:"door_line"`
	TTS         TTSConfig         `yaml:"tts"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Database    DatabaseConfig    `yaml:"database"`
	Web         WebConfig         `yaml:"web"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type CameraConfig struct {
	Source             string `yaml:"source"` // device index, file path or rtsp:// url
	Width              int    `yaml:"width"`
	FPS                int    `yaml:"fps"`
	DetectEveryNFrames int    `yaml:"detect_every_n_frames"`
	QueueSize          int    `yaml:"queue_size"`
}

type WorkerConfig struct {
	Python         string  `yaml:"python"`
	Script         string  `yaml:"script"`
	MinConfidence  float64 `yaml:"min_confidence"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

type RecognitionConfig struct {
	SimilarityThreshold       float64 `yaml:"similarity_threshold"`
	ConsecutiveFramesRequired int     `yaml:"consecutive_frames_required"`
}

type TrackingConfig struct {
	MaxLinkDistance  float64 `yaml:"max_link_distance"`
	MaxFramesMissing int     `yaml:"max_frames_missing"`
}

type GreetingConfig struct {
	Mode                string  `yaml:"mode"`
	CooldownSeconds     float64 `yaml:"cooldown_seconds"`
	EntryTemplate       string  `yaml:"entry_template"`
	ExitTemplate        string  `yaml:"exit_template"`
	DrainTimeoutSeconds float64 `yaml:"drain_timeout_seconds"` // 0 waits for every queued greeting
}

type DoorLineConfig struct {
	Orientation     string  `yaml:"orientation"`
	Position        float64 `yaml:"position"`
	InsideDirection string  `yaml:"inside_direction"`
}

type TTSConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    int     `yaml:"rate"`
	Volume  float64 `yaml:"volume"`
	Voice   string  `yaml:"voice"`
}

type GalleryConfig struct {
	File                  string  `yaml:"file"` // when set, identities come from this YAML file instead of Postgres
	ReloadIntervalSeconds float64 `yaml:"reload_interval_seconds"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type WebConfig struct {
	Addr string `yaml:"addr"` // empty disables the status API
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // text or json
	AuditFile string `yaml:"audit_file"`
}

// ConfigError names the first invalid setting. The greeter refuses to start
// rather than clamp it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns the settings the greeter runs with when nothing is configured.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:             "0",
			Width:              1280,
			FPS:                30,
			DetectEveryNFrames: 3,
			QueueSize:          1,
		},
		Worker: WorkerConfig{
			Python:         "python3",
			Script:         "python/worker.py",
			MinConfidence:  0.5,
			TimeoutSeconds: 10,
		},
		Recognition: RecognitionConfig{
			SimilarityThreshold:       0.40,
			ConsecutiveFramesRequired: 3,
		},
		Tracking: TrackingConfig{
			MaxLinkDistance:  120,
			MaxFramesMissing: 15,
		},
		Greeting: GreetingConfig{
			Mode:                string(events.Presence),
			CooldownSeconds:     300,
			EntryTemplate:       events.DefaultEntryTemplate,
			ExitTemplate:        events.DefaultExitTemplate,
			DrainTimeoutSeconds: 15,
		},
		DoorLine: DoorLineConfig{
			Orientation:     string(doorline.Horizontal),
			Position:        0.5,
			InsideDirection: string(doorline.Below),
		},
		TTS: TTSConfig{
			Enabled: true,
			Rate:    170,
			Volume:  0.9,
		},
		Gallery: GalleryConfig{
			ReloadIntervalSeconds: 60,
		},
		Web: WebConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the optional .env file, then path (if non-empty) over the
// defaults, then the GREETER_* environment. A missing .env is not an error;
// a missing config file named explicitly is.
func Load(path string) (*Config, error) {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding couples one GREETER_* variable to the field it overrides.
type envBinding struct {
	key string
	set func(string) error
}

func (c *Config) bindings() []envBinding {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	num := func(dst *float64) func(string) error {
		return func(v string) (err error) { *dst, err = cast.ToFloat64E(v); return }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) { *dst, err = cast.ToIntE(v); return }
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) (err error) { *dst, err = cast.ToBoolE(v); return }
	}
	return []envBinding{
		{"CAMERA_SOURCE", str(&c.Camera.Source)},
		{"CAMERA_FPS", integer(&c.Camera.FPS)},
		{"DETECT_EVERY_N_FRAMES", integer(&c.Camera.DetectEveryNFrames)},
		{"SIMILARITY_THRESHOLD", num(&c.Recognition.SimilarityThreshold)},
		{"CONSECUTIVE_FRAMES_REQUIRED", integer(&c.Recognition.ConsecutiveFramesRequired)},
		{"MAX_LINK_DISTANCE", num(&c.Tracking.MaxLinkDistance)},
		{"MAX_FRAMES_MISSING", integer(&c.Tracking.MaxFramesMissing)},
		{"MODE", str(&c.Greeting.Mode)},
		{"COOLDOWN_SECONDS", num(&c.Greeting.CooldownSeconds)},
		{"LINE_ORIENTATION", str(&c.DoorLine.Orientation)},
		{"LINE_POSITION_FRACTION", num(&c.DoorLine.Position)},
		{"LINE_INSIDE_DIRECTION", str(&c.DoorLine.InsideDirection)},
		{"TTS_ENABLED", boolean(&c.TTS.Enabled)},
		{"TTS_VOICE", str(&c.TTS.Voice)},
		{"GALLERY_FILE", str(&c.Gallery.File)},
		{"DATABASE_URL", str(&c.Database.URL)},
		{"WEB_ADDR", str(&c.Web.Addr)},
		{"LOG_LEVEL", str(&c.Logging.Level)},
		{"LOG_FORMAT", str(&c.Logging.Format)},
		{"AUDIT_FILE", str(&c.Logging.AuditFile)},
	}
}

// ApplyEnv overrides fields from lookup, which is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.bindings() {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return &ConfigError{Field: EnvPrefix + b.key, Err: err}
		}
	}
	return nil
}

// Validate rejects out-of-range values. It never adjusts them.
func (c *Config) Validate() error {
	r := c.Recognition
	switch {
	case r.SimilarityThreshold <= 0 || r.SimilarityThreshold > 1:
		return &ConfigError{"recognition.similarity_threshold", fmt.Errorf("must be in (0,1], got %v", r.SimilarityThreshold)}
	case r.ConsecutiveFramesRequired < 1:
		return &ConfigError{"recognition.consecutive_frames_required", fmt.Errorf("must be at least 1, got %d", r.ConsecutiveFramesRequired)}
	case c.Tracking.MaxLinkDistance <= 0:
		return &ConfigError{"tracking.max_link_distance", fmt.Errorf("must be positive, got %v", c.Tracking.MaxLinkDistance)}
	case c.Tracking.MaxFramesMissing < 0:
		return &ConfigError{"tracking.max_frames_missing", fmt.Errorf("must not be negative, got %d", c.Tracking.MaxFramesMissing)}
	case c.Greeting.CooldownSeconds < 0:
		return &ConfigError{"greeting.cooldown_seconds", fmt.Errorf("must not be negative, got %v", c.Greeting.CooldownSeconds)}
	case c.Greeting.DrainTimeoutSeconds < 0:
		return &ConfigError{"greeting.drain_timeout_seconds", fmt.Errorf("must not be negative, got %v", c.Greeting.DrainTimeoutSeconds)}
	case c.Camera.DetectEveryNFrames < 1:
		return &ConfigError{"camera.detect_every_n_frames", fmt.Errorf("must be at least 1, got %d", c.Camera.DetectEveryNFrames)}
	case c.Worker.MinConfidence < 0 || c.Worker.MinConfidence > 1:
		return &ConfigError{"face_detection.min_confidence", fmt.Errorf("must be in [0,1], got %v", c.Worker.MinConfidence)}
	}

	mode, err := events.ParseMode(c.Greeting.Mode)
	if err != nil {
		return &ConfigError{"greeting.mode", err}
	}
	if mode == events.DoorLine {
		l := c.DoorLine
		if err := doorline.Check(doorline.Orientation(l.Orientation), l.Position, doorline.Direction(l.InsideDirection)); err != nil {
			return &ConfigError{"door_line", err}
		}
	}
	for field, tpl := range map[string]string{
		"greeting.entry_template": c.Greeting.EntryTemplate,
		"greeting.exit_template":  c.Greeting.ExitTemplate,
	} {
		if tpl != "" && !strings.Contains(tpl, "{name}") {
			return &ConfigError{field, errors.New("template must contain {name}")}
		}
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{"logging.level", err}
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		return &ConfigError{"logging.format", fmt.Errorf("want text or json, got %q", f)}
	}
	return nil
}

// Pipeline converts the validated settings into the pipeline's config.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Tracker: tracker.Config{
			MaxLinkDistance:           c.Tracking.MaxLinkDistance,
			MaxFramesMissing:          c.Tracking.MaxFramesMissing,
			ConsecutiveFramesRequired: c.Recognition.ConsecutiveFramesRequired,
		},
		Events: events.Config{
			Mode:          events.Mode(c.Greeting.Mode),
			Cooldown:      seconds(c.Greeting.CooldownSeconds),
			EntryTemplate: c.Greeting.EntryTemplate,
			ExitTemplate:  c.Greeting.ExitTemplate,
		},
		Line: pipeline.LineConfig{
			Orientation: doorline.Orientation(c.DoorLine.Orientation),
			Fraction:    c.DoorLine.Position,
			Inside:      doorline.Direction(c.DoorLine.InsideDirection),
		},
		DrainTimeout: seconds(c.Greeting.DrainTimeoutSeconds),
	}
}

// ConfigureLogger applies the logging section to logger.
func (c *Config) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return &ConfigError{"logging.level", err}
	}
	logger.SetLevel(level)
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WorkerTimeout is the per-frame inference deadline.
func (c *Config) WorkerTimeout() time.Duration { return seconds(c.Worker.TimeoutSeconds) }

// ReloadInterval is how often a database gallery is re-read.
func (c *Config) ReloadInterval() time.Duration { return seconds(c.Gallery.ReloadIntervalSeconds) }
