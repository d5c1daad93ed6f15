package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/andresmejia3/greeter/internal/utils" // Using the SafeCommand wrapper
)

// ErrTimeout is returned when the worker does not answer within its deadline.
var ErrTimeout = errors.New("worker timed out")

// ErrBroken is returned when a failed exchange left the stream out of step and
// the process could not be replaced.
var ErrBroken = errors.New("worker stream out of sync")

const (
	statusOK    = 0
	statusError = 1

	// maxResponse guards against a corrupt length header allocating gigabytes.
	maxResponse = 64 << 20
)

// Config locates the inference script and bounds each request.
type Config struct {
	Python             string        // interpreter, default python3
	Script             string        // default python/worker.py
	Timeout            time.Duration // per frame; 0 disables the deadline
	DetectionThreshold float64       // faces below this confidence are dropped
}

// deadliner is implemented by *os.File pipes.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PythonWorker talks to one detector/embedder process over a pair of pipes.
// Requests are serialized; the protocol is strictly request/response.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	Timeout            time.Duration
	DetectionThreshold float64

	mu        sync.Mutex
	cfg       Config
	spawnable bool  // false for workers wired to caller-supplied pipes
	broken    error // set when a request was sent but its reply not fully read
}

func NewPythonWorker(id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}

	w := &PythonWorker{
		ID:                 id,
		Timeout:            cfg.Timeout,
		DetectionThreshold: cfg.DetectionThreshold,
		cfg:                cfg,
		spawnable:          true,
	}
	if err := w.start(); err != nil {
		return nil, err
	}
	return w, nil
}

// start launches the interpreter and wires up its pipes.
func (w *PythonWorker) start() error {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(w.cfg.Python, "-u", w.cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, wr, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{wr}

	stdin, err := py.StdinPipe()
	if err != nil {
		wr.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		wr.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	wr.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r
	return nil
}

// restart replaces a desynchronised process with a fresh one.
func (w *PythonWorker) restart() error {
	if !w.spawnable {
		return fmt.Errorf("worker %d: %w: %v", w.ID, ErrBroken, w.broken)
	}
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
		_ = w.Cmd.Wait()
	}
	if err := w.start(); err != nil {
		return fmt.Errorf("worker %d: %w: restart failed: %v", w.ID, ErrBroken, err)
	}
	w.broken = nil
	return nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// A late or partial reply may still be in the pipe; never read it as ours.
	if w.broken != nil {
		if err := w.restart(); err != nil {
			return nil, err
		}
	}

	if d, ok := w.DataPipe.(deadliner); ok {
		deadline := time.Time{}
		if w.Timeout > 0 {
			deadline = time.Now().Add(w.Timeout)
		}
		if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
			deadline = dl
		}
		_ = d.SetReadDeadline(deadline)
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, w.fail(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.fail(err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, w.fail(err) // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, w.fail(fmt.Errorf("worker %d: response length %d exceeds limit", w.ID, respLen))
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, w.fail(err)
	}
	return respBody, nil
}

// fail marks the stream unusable and translates deadline errors.
func (w *PythonWorker) fail(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = fmt.Errorf("worker %d: %w after %v", w.ID, ErrTimeout, w.Timeout)
	}
	w.broken = err
	return err
}

// ProcessFrame runs detection and embedding on one encoded frame.
func (w *PythonWorker) ProcessFrame(ctx context.Context, data []byte) (types.Analysis, error) {
	resp, err := w.Communicate(ctx, data)
	if err != nil {
		return types.Analysis{}, err
	}
	return ParseResponse(resp)
}

// Analyze is ProcessFrame converted to detections, dropping low-confidence faces.
func (w *PythonWorker) Analyze(ctx context.Context, frame []byte) (types.Observation, error) {
	a, err := w.ProcessFrame(ctx, frame)
	if err != nil {
		return types.Observation{}, err
	}
	return ToObservation(a, w.DetectionThreshold), nil
}

// ToObservation converts worker faces to detections.
func ToObservation(a types.Analysis, minConfidence float64) types.Observation {
	obs := types.Observation{Width: a.Width, Height: a.Height}
	for _, f := range a.Faces {
		if f.Confidence < minConfidence {
			continue
		}
		obs.Detections = append(obs.Detections, types.DetectionFromFace(f))
	}
	return obs
}

// ParseResponse decodes a response body.
//
//	status 0: [width u32][height u32][n u32] then n × ([x1 y1 x2 y2 i32][conf f32][dim u32][dim × f32])
//	status 1: [msgLen u32][msg]
func ParseResponse(resp []byte) (types.Analysis, error) {
	if len(resp) == 0 {
		return types.Analysis{}, errors.New("empty worker response")
	}
	r := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return types.Analysis{}, fmt.Errorf("truncated worker error: %w", err)
		}
		if int(msgLen) > r.Len() {
			return types.Analysis{}, errors.New("truncated worker error message")
		}
		msg := make([]byte, msgLen)
		_, _ = io.ReadFull(r, msg)
		return types.Analysis{}, fmt.Errorf("python worker error: %s", msg)
	default:
		return types.Analysis{}, fmt.Errorf("unknown worker status %d", resp[0])
	}

	var head struct {
		Width, Height, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return types.Analysis{}, fmt.Errorf("truncated frame header: %w", err)
	}

	a := types.Analysis{Width: int(head.Width), Height: int(head.Height)}
	for i := uint32(0); i < head.Count; i++ {
		var face struct {
			Box        [4]int32
			Confidence float32
			Dim        uint32
		}
		if err := binary.Read(r, binary.BigEndian, &face); err != nil {
			return types.Analysis{}, fmt.Errorf("face %d: truncated header: %w", i, err)
		}
		if int64(face.Dim)*4 > int64(r.Len()) {
			return types.Analysis{}, fmt.Errorf("face %d: embedding of %d values exceeds payload", i, face.Dim)
		}
		vec := make([]float32, face.Dim)
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return types.Analysis{}, fmt.Errorf("face %d: truncated embedding: %w", i, err)
		}
		a.Faces = append(a.Faces, types.FaceResult{
			Loc:        [4]int{int(face.Box[0]), int(face.Box[1]), int(face.Box[2]), int(face.Box[3])},
			Confidence: float64(face.Confidence),
			Vec:        vec,
		})
	}
	return a, nil
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
