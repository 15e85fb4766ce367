package worker

import (
	"context"
	"sync"

	"github.com/andresmejia3/blurface/internal/types"
)

// Task is one decoded frame waiting for detection
type Task struct {
	Index int
	Frame *types.Frame
}

// Result carries a frame and its detections back to the writer.
// Err is set when detection failed for this frame.
type Result struct {
	Index      int
	Frame      *types.Frame
	Detections types.DetectionResult
	Err        error
}

// LocateFunc runs face detection on a single frame. It must be safe to call
// from several goroutines at once.
type LocateFunc func(frame *types.Frame) (types.DetectionResult, error)

// Detect fans tasks out to n goroutines and returns their results in completion order.
// The results channel is closed once tasks is drained or ctx is done and every worker has exited.
// wait blocks until every worker has exited, so no locate call outlives the caller.
func Detect(ctx context.Context, n int, tasks <-chan Task, locate LocateFunc) (results <-chan Result, wait func()) {
	if n < 1 {
		n = 1
	}
	out := make(chan Result, n*2)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				if ctx.Err() != nil {
					return
				}
				dets, err := locate(task.Frame)
				select {
				case out <- Result{Index: task.Index, Frame: task.Frame, Detections: dets, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, wg.Wait
}

// ReorderBuffer releases results strictly in frame index order.
// Workers finish out of order, so anything ahead of the next expected index is parked.
type ReorderBuffer struct {
	next    int
	pending map[int]Result
}

func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{pending: make(map[int]Result)}
}

// Push parks r and returns every result that is now contiguous with what was already released
func (b *ReorderBuffer) Push(r Result) []Result {
	b.pending[r.Index] = r

	var ready []Result
	for {
		res, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		ready = append(ready, res)
		b.next++
	}
	return ready
}

// Pending is the number of results still waiting on an earlier frame
func (b *ReorderBuffer) Pending() int {
	return len(b.pending)
}

// Next is the index of the next frame to be released
func (b *ReorderBuffer) Next() int {
	return b.next
}
