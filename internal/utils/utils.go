package utils

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register the JPEG decoder for DecodeConfig
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs,
// ffmpeg complaints, TTS backend errors) so a failure can be explained after the fact.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	return wrap(exec.Command(name, args...))
}

// NewSafeCommandContext is NewSafeCommand bound to ctx; the process is killed when ctx ends.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	return wrap(exec.CommandContext(ctx, name, args...))
}

func wrap(cmd *exec.Cmd) *SafeCommand {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// RunQuiet runs the command to completion and folds captured stderr into the error.
func (s *SafeCommand) RunQuiet() error {
	if err := s.Run(); err != nil {
		if msg := strings.TrimSpace(s.Stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", s.Path, err)
	}
	return nil
}

// ShowError prints the formatted error box, plus any captured child logs, without exiting.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 GREETER ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nCHILD PROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy: ShowError, then exit 1.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Capture Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureOptions describes where frames come from and how often.
type CaptureOptions struct {
	Source string  // camera device, stream URL, file path or a bare camera index
	FPS    float64 // 0 keeps the source rate
	Width  int     // 0 keeps the source size
}

// CaptureArgs builds the ffmpeg argument list that turns Source into an MJPEG stream on stdout.
func CaptureArgs(opts CaptureOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	src := opts.Source
	if _, err := strconv.Atoi(src); err == nil {
		// A bare index means a local camera.
		switch runtime.GOOS {
		case "darwin":
			args = append(args, "-f", "avfoundation", "-framerate", "30")
		case "windows":
			src = "video=" + src
			args = append(args, "-f", "dshow")
		default:
			src = "/dev/video" + src
			args = append(args, "-f", "v4l2")
		}
	} else if strings.HasPrefix(src, "/dev/video") {
		args = append(args, "-f", "v4l2")
	} else if strings.HasPrefix(src, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", src)

	var filters []string
	if opts.FPS > 0 {
		filters = append(filters, "fps="+strconv.FormatFloat(opts.FPS, 'f', -1, 64))
	}
	if opts.Width > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:-2", opts.Width))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegCaptureCmd creates the decoder pipe for a live source.
func NewFFmpegCaptureCmd(ctx context.Context, opts CaptureOptions) *SafeCommand {
	return NewSafeCommandContext(ctx, "ffmpeg", CaptureArgs(opts)...)
}

// FrameSize reads the pixel dimensions from an encoded frame header.
func FrameSize(frame []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read frame header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
