// Package speech provides the text-to-speech backends used by the dispatcher.
package speech

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/andresmejia3/greeter/internal/utils"
	"github.com/sirupsen/logrus"
)

// Options tune the voice. Zero values use the platform defaults.
type Options struct {
	Rate   int     // words per minute
	Volume float64 // 0..1
	Voice  string
}

// DefaultRate matches a relaxed reception voice.
const DefaultRate = 170

// Command speaks each utterance with a fresh OS process: espeak on Linux,
// say on macOS and SAPI through PowerShell on Windows. The process lives
// exactly as long as the utterance.
type Command struct {
	goos string
	opts Options
	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// NewCommand returns the backend for the running OS.
func NewCommand(opts Options) *Command {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Volume <= 0 || opts.Volume > 1 {
		opts.Volume = 0.9
	}
	return &Command{goos: runtime.GOOS, opts: opts, lookPath: exec.LookPath}
}

// Check reports whether the platform speech program is installed.
func (c *Command) Check() error {
	name, _ := c.argv("")
	if _, err := c.lookPath(name); err != nil {
		return fmt.Errorf("speech backend %s not found: %w", name, err)
	}
	return nil
}

// Speak blocks until the utterance has been played.
func (c *Command) Speak(ctx context.Context, text string) error {
	name, args := c.argv(text)
	return utils.NewSafeCommandContext(ctx, name, args...).RunQuiet()
}

func (c *Command) argv(text string) (string, []string) {
	switch c.goos {
	case "darwin":
		// say runs noticeably slower than espeak at the same nominal rate.
		args := []string{"-r", strconv.Itoa(c.opts.Rate - 20)}
		if c.opts.Voice != "" {
			args = append(args, "-v", c.opts.Voice)
		}
		return "say", append(args, text)
	case "windows":
		// SAPI rate is -10..10 around a ~180 wpm default.
		rate := (c.opts.Rate - 180) / 10
		if rate < -10 {
			rate = -10
		} else if rate > 10 {
			rate = 10
		}
		script := fmt.Sprintf(
			"Add-Type -AssemblyName System.Speech; $s = New-Object System.Speech.Synthesis.SpeechSynthesizer; $s.Rate = %d; $s.Volume = %d; ",
			rate, int(c.opts.Volume*100))
		if c.opts.Voice != "" {
			script += fmt.Sprintf("$s.SelectVoice('%s'); ", psQuote(c.opts.Voice))
		}
		script += fmt.Sprintf("$s.Speak('%s')", psQuote(text))
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}
	default:
		args := []string{"-s", strconv.Itoa(c.opts.Rate), "-a", strconv.Itoa(int(c.opts.Volume * 200))}
		if c.opts.Voice != "" {
			args = append(args, "-v", c.opts.Voice)
		}
		return "espeak", append(args, text)
	}
}

func psQuote(s string) string { return strings.ReplaceAll(s, "'", "''") }

// Log only writes the utterance to the log. Used with --no-tts and on
// machines without audio.
type Log struct {
	Logger logrus.FieldLogger
}

func (l Log) Speak(ctx context.Context, text string) error {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("component", "speech").Infof("🔊 %s", text)
	return nil
}
