package utils

import (
	"bufio"
	"bytes"
	"image"
	"image/jpeg"
	"runtime"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}
	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("unexpected frames %X", got)
	}
}

func TestFrameSize(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil); err != nil {
		t.Fatal(err)
	}
	w, h, err := FrameSize(buf.Bytes())
	if err != nil {
		t.Fatalf("FrameSize() error = %v", err)
	}
	if w != 64 || h != 48 {
		t.Errorf("FrameSize() = %dx%d, want 64x48", w, h)
	}

	if _, _, err := FrameSize([]byte("not a jpeg")); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestCaptureArgs(t *testing.T) {
	tests := []struct {
		name     string
		opts     CaptureOptions
		contains []string
	}{
		{"v4l2 device", CaptureOptions{Source: "/dev/video2"}, []string{"-f v4l2", "-i /dev/video2"}},
		{"rtsp over tcp", CaptureOptions{Source: "rtsp://cam/stream"}, []string{"-rtsp_transport tcp"}},
		{"fps and width", CaptureOptions{Source: "clip.mp4", FPS: 5, Width: 640}, []string{"-vf fps=5,scale=640:-2"}},
		{"mjpeg on stdout", CaptureOptions{Source: "clip.mp4"}, []string{"-f image2pipe -vcodec mjpeg -"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(CaptureArgs(tt.opts), " ")
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("args %q missing %q", got, want)
				}
			}
		})
	}

	if runtime.GOOS == "linux" {
		got := strings.Join(CaptureArgs(CaptureOptions{Source: "0"}), " ")
		if !strings.Contains(got, "-i /dev/video0") {
			t.Errorf("camera index should map to /dev/video0, got %q", got)
		}
	}
}

func TestRunQuietIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	err := NewSafeCommand("sh", "-c", "echo boom >&2; exit 3").RunQuiet()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
