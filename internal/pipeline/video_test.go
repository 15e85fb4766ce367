package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

var videoFace = types.BoundingBox{X: 20, Y: 10, Width: 20, Height: 20}

// testFrames builds n 64x48 frames; the first withFace of them carry a face
func testFrames(n, withFace int) []*types.Frame {
	frames := make([]*types.Frame, n)
	for i := range frames {
		f := types.NewFrame(64, 48)
		paintBackground(f, i)
		if i < withFace {
			paintFace(f, videoFace)
		}
		frames[i] = f
	}
	return frames
}

func writeVideo(t *testing.T, data []byte) (in, out string) {
	dir := t.TempDir()
	in = filepath.Join(dir, "in.fakevid")
	require.NoError(t, os.WriteFile(in, data, 0644))
	return in, filepath.Join(dir, "out.mp4")
}

func readVideo(t *testing.T, path string) (types.MediaDescriptor, []*types.Frame) {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	desc, frames, err := decodeFakeVideo(data)
	require.NoError(t, err)
	return desc, frames
}

func newTestVideoPipeline(t *testing.T, codec *fakeCodec) *VideoPipeline {
	return NewVideoPipeline(&markerLocator{candidates: []types.BoundingBox{videoFace}}, codec, logs.NewTestingLog(t))
}

func TestVideoBlursOnlyFramesWithFaces(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			rate := types.Rational{Num: 30, Den: 1}
			input := testFrames(30, 15)
			in, out := writeVideo(t, encodeFakeVideo(rate, input))

			codec := &fakeCodec{}
			cfg := types.DefaultConfig()
			cfg.Workers = workers
			report, err := newTestVideoPipeline(t, codec).ProcessFile(context.Background(), in, out, cfg, nil)
			require.NoError(t, err)
			require.Equal(t, 30, report.Frames)
			require.Equal(t, 15, report.Faces)
			require.Equal(t, types.KindVideo, report.Kind)
			require.True(t, codec.allClosed())

			desc, got := readVideo(t, out)
			require.Equal(t, rate, desc.FrameRate)
			require.Equal(t, 64, desc.Width)
			require.Equal(t, 48, desc.Height)
			require.Len(t, got, 30)

			for i := range got {
				if i < 15 {
					require.Less(t, regionStdDev(got[i], videoFace), 40.0, "frame %d face not blurred", i)
					require.True(t, pixelsOutsideEqual(input[i], got[i], []types.BoundingBox{videoFace}), "frame %d changed outside the face", i)
				} else {
					require.Equal(t, input[i].Pix, got[i].Pix, "frame %d without faces changed", i)
				}
			}
		})
	}
}

func TestVideoPreservesFrameCountAndRate(t *testing.T) {
	cases := []struct {
		frames int
		rate   types.Rational
	}{
		{1, types.Rational{Num: 30, Den: 1}},
		{7, types.Rational{Num: 30000, Den: 1001}},
		{45, types.Rational{Num: 25, Den: 1}},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d@%s", tc.frames, tc.rate), func(t *testing.T) {
			in, out := writeVideo(t, encodeFakeVideo(tc.rate, testFrames(tc.frames, tc.frames)))

			cfg := types.DefaultConfig()
			cfg.Workers = 3
			report, err := newTestVideoPipeline(t, &fakeCodec{}).ProcessFile(context.Background(), in, out, cfg, nil)
			require.NoError(t, err)
			require.Equal(t, tc.frames, report.Frames)

			desc, got := readVideo(t, out)
			require.Len(t, got, tc.frames)
			require.Equal(t, tc.rate, desc.FrameRate)
		})
	}
}

func TestVideoProcessInMemory(t *testing.T) {
	rate := types.Rational{Num: 24, Den: 1}
	codec := &fakeCodec{}
	p := newTestVideoPipeline(t, codec)
	p.TempDir = t.TempDir()

	out, err := p.Process(context.Background(), encodeFakeVideo(rate, testFrames(10, 5)), types.DefaultConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, "mp4", out.Format)
	require.Equal(t, ".mp4", out.Extension())
	require.Equal(t, 10, out.Report.Frames)
	require.Equal(t, 5, out.Report.Faces)

	_, frames, err := decodeFakeVideo(out.Data)
	require.NoError(t, err)
	require.Len(t, frames, 10)

	staged, err := os.ReadDir(p.TempDir)
	require.NoError(t, err)
	require.Empty(t, staged, "temporary files were left behind")
}

func TestVideoProgress(t *testing.T) {
	in, out := writeVideo(t, encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(30, 10)))

	var progress []float64
	observer := func(v float64) { progress = append(progress, v) }

	cfg := types.DefaultConfig()
	cfg.Workers = 4
	_, err := newTestVideoPipeline(t, &fakeCodec{}).ProcessFile(context.Background(), in, out, cfg, observer)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(progress), 30)
	prev := 0.0
	for _, v := range progress {
		require.GreaterOrEqual(t, v, prev)
		require.LessOrEqual(t, v, 1.0)
		prev = v
	}
	require.Equal(t, 1.0, progress[len(progress)-1])
	require.InDelta(t, 1.0/30, progress[0], 1e-9)
}

func TestVideoNilObserverMatchesObserved(t *testing.T) {
	data := encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(12, 6))

	inA, outA := writeVideo(t, data)
	_, err := newTestVideoPipeline(t, &fakeCodec{}).ProcessFile(context.Background(), inA, outA, types.DefaultConfig(), nil)
	require.NoError(t, err)

	inB, outB := writeVideo(t, data)
	_, err = newTestVideoPipeline(t, &fakeCodec{}).ProcessFile(context.Background(), inB, outB, types.DefaultConfig(), func(float64) {})
	require.NoError(t, err)

	a, err := os.ReadFile(outA)
	require.NoError(t, err)
	b, err := os.ReadFile(outB)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestVideoUndecodableInput(t *testing.T) {
	in, out := writeVideo(t, []byte("this is not a video at all"))
	codec := &fakeCodec{}

	_, err := newTestVideoPipeline(t, codec).ProcessFile(context.Background(), in, out, types.DefaultConfig(), nil)
	var decErr *types.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, types.KindVideo, decErr.Kind)
	require.NoFileExists(t, out)
	require.Empty(t, codec.encoders, "an encoder was opened for undecodable input")
}

func TestVideoZeroFrames(t *testing.T) {
	data := encodeFakeVideo(types.Rational{Num: 30, Den: 1}, nil)
	in, out := writeVideo(t, data)
	codec := &fakeCodec{}

	_, err := newTestVideoPipeline(t, codec).ProcessFile(context.Background(), in, out, types.DefaultConfig(), nil)
	var decErr *types.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.NoFileExists(t, out)
	require.True(t, codec.allClosed())
}

func TestVideoMidStreamFailureAborts(t *testing.T) {
	frames := testFrames(30, 30)
	data := encodeFakeVideo(types.Rational{Num: 30, Den: 1}, frames)
	frameSize := len(frames[0].Pix)
	// Keep the header, 20 whole frames and half of the 21st
	cut := len(data) - 30*frameSize + 20*frameSize + frameSize/2
	in, out := writeVideo(t, data[:cut])

	for _, workers := range []int{1, 4} {
		codec := &fakeCodec{}
		cfg := types.DefaultConfig()
		cfg.Workers = workers

		_, err := newTestVideoPipeline(t, codec).ProcessFile(context.Background(), in, out, cfg, nil)
		var frameErr *types.FrameDecodeError
		require.ErrorAs(t, err, &frameErr)
		require.Equal(t, 20, frameErr.Index)
		require.NoFileExists(t, out)
		require.True(t, codec.allClosed())
		require.True(t, codec.encoders[0].aborted)
	}
}

func TestVideoDetectionFailureAborts(t *testing.T) {
	in, out := writeVideo(t, encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(10, 10)))
	boom := &types.DetectError{Err: errors.New("model exploded")}

	codec := &fakeCodec{}
	p := NewVideoPipeline(&markerLocator{err: boom}, codec, logs.NewTestingLog(t))
	_, err := p.ProcessFile(context.Background(), in, out, types.DefaultConfig(), nil)

	var detErr *types.DetectError
	require.ErrorAs(t, err, &detErr)
	require.NoFileExists(t, out)
	require.True(t, codec.allClosed())
}

// slowFailingLocator fails the first frame and keeps every other call busy for a while
type slowFailingLocator struct {
	calls    atomic.Int32
	inFlight atomic.Int32
}

func (l *slowFailingLocator) Locate(frame *types.Frame, cfg types.Config) (types.DetectionResult, error) {
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	if l.calls.Add(1) == 1 {
		return nil, &types.DetectError{Err: errors.New("model exploded")}
	}
	time.Sleep(20 * time.Millisecond)
	return types.DetectionResult{}, nil
}

func TestVideoDetectionFailureWaitsForWorkers(t *testing.T) {
	in, out := writeVideo(t, encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(30, 0)))

	locator := &slowFailingLocator{}
	cfg := types.DefaultConfig()
	cfg.Workers = 4
	p := NewVideoPipeline(locator, &fakeCodec{}, logs.NewTestingLog(t))
	_, err := p.ProcessFile(context.Background(), in, out, cfg, nil)

	var detErr *types.DetectError
	require.ErrorAs(t, err, &detErr)
	require.Zero(t, locator.inFlight.Load(), "detection still running after ProcessFile returned")
}

func TestVideoCancellation(t *testing.T) {
	in, out := writeVideo(t, encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(30, 30)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	observer := func(v float64) {
		if v >= 5.0/30 {
			cancel()
		}
	}

	codec := &fakeCodec{}
	_, err := newTestVideoPipeline(t, codec).ProcessFile(ctx, in, out, types.DefaultConfig(), observer)
	require.ErrorIs(t, err, types.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)

	var cancelled *types.CancelledError
	require.ErrorAs(t, err, &cancelled)
	require.GreaterOrEqual(t, cancelled.Frame, 5)
	require.Less(t, cancelled.Frame, 30)

	require.NoFileExists(t, out)
	require.True(t, codec.allClosed())
}

func TestVideoCancelledBeforeStart(t *testing.T) {
	in, out := writeVideo(t, encodeFakeVideo(types.Rational{Num: 30, Den: 1}, testFrames(3, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	codec := &fakeCodec{}
	_, err := newTestVideoPipeline(t, codec).ProcessFile(ctx, in, out, types.DefaultConfig(), nil)
	require.ErrorIs(t, err, types.ErrCancelled)
	require.Empty(t, codec.decoders)
}
