package speech

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestArgv(t *testing.T) {
	tests := []struct {
		goos     string
		opts     Options
		wantName string
		contains []string
	}{
		{"linux", Options{Rate: 170, Volume: 0.5}, "espeak", []string{"-s 170", "-a 100", "Hey Alice"}},
		{"darwin", Options{Rate: 170, Voice: "Samantha"}, "say", []string{"-r 150", "-v Samantha"}},
		{"windows", Options{Rate: 170, Volume: 0.9}, "powershell", []string{"$s.Rate = -1", "$s.Volume = 90", "Speak('Hey Alice, it''s you')"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			c := NewCommand(tt.opts)
			c.goos = tt.goos
			text := "Hey Alice"
			if tt.goos == "windows" {
				text = "Hey Alice, it's you"
			}
			name, args := c.argv(text)
			if name != tt.wantName {
				t.Errorf("name = %s, want %s", name, tt.wantName)
			}
			joined := strings.Join(args, " ")
			for _, want := range tt.contains {
				if !strings.Contains(joined, want) {
					t.Errorf("args %q missing %q", joined, want)
				}
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	c := NewCommand(Options{})
	if c.opts.Rate != DefaultRate || c.opts.Volume != 0.9 {
		t.Errorf("unexpected defaults %+v", c.opts)
	}
}

func TestCheckMissingBackend(t *testing.T) {
	c := NewCommand(Options{})
	c.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if err := c.Check(); err == nil {
		t.Error("expected error for missing backend")
	}
}

func TestLogSpeaker(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	if err := (Log{Logger: logger}).Speak(context.Background(), "Bye Alice, see you later!"); err != nil {
		t.Fatal(err)
	}
	entry := hook.LastEntry()
	if entry == nil || !strings.Contains(entry.Message, "Bye Alice") {
		t.Errorf("utterance not logged: %+v", entry)
	}
}
