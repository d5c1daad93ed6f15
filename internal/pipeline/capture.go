package pipeline

import (
	"bufio"
	"context"
	"io"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/andresmejia3/greeter/internal/utils"
)

const megabyte = 1024 * 1024

// CaptureStats counts what the splitter saw.
type CaptureStats struct {
	Read     int // frames split from the stream
	Admitted int // frames handed to the pipeline
	Dropped  int // frames discarded because the pipeline was busy
}

// Capture splits an MJPEG stream into frames and offers every nth one to out.
// A full channel means the pipeline is still busy, so the frame is dropped:
// live greeting prefers fresh frames over a backlog. Frames are never reordered.
// onFrame, if set, is called for every frame read (progress display).
func Capture(ctx context.Context, r io.Reader, out chan<- types.FrameTask, nth int, onFrame func(CaptureStats)) (CaptureStats, error) {
	if nth < 1 {
		nth = 1
	}
	var st CaptureStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Read++
		if st.Read%nth == 0 {
			// The scanner reuses its buffer, so each admitted frame gets its own copy.
			data := append([]byte(nil), scanner.Bytes()...)
			select {
			case out <- types.FrameTask{Index: st.Read, Data: data}:
				st.Admitted++
			default:
				st.Dropped++
			}
		}
		if onFrame != nil {
			onFrame(st)
		}
	}
	if err := scanner.Err(); err != nil {
		return st, err
	}
	return st, ctx.Err()
}
