package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewJob(t *testing.T) {
	report := types.Report{
		Kind: types.KindVideo,
		Descriptor: types.MediaDescriptor{
			Kind:      types.KindVideo,
			Width:     1280,
			Height:    720,
			FrameRate: types.Rational{Num: 30000, Den: 1001},
		},
		Frames:  300,
		Faces:   42,
		Elapsed: 1500 * time.Millisecond,
	}

	job := NewJob("abc", types.KindVideo, "in.mov", "blurred_abc.mp4", report, nil)
	require.Equal(t, StatusSucceeded, job.Status)
	require.Equal(t, "30000/1001", job.FrameRate)
	require.Equal(t, 1280, job.Width)
	require.Equal(t, 300, job.Frames)
	require.Equal(t, 42, job.Faces)
	require.Equal(t, "blurred_abc.mp4", job.Output)
	require.Empty(t, job.Error)

	failed := NewJob("def", types.KindImage, "in.png", "blurred_def.png", types.Report{}, &types.DecodeError{Kind: types.KindImage, Err: errors.New("bad header")})
	require.Equal(t, StatusFailed, failed.Status)
	require.Contains(t, failed.Error, "bad header")
	require.Empty(t, failed.Output)
	require.Empty(t, failed.FrameRate)
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("blurface_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	require.NoError(t, err)
	defer s.Close()

	okJob := NewJob("job-1", types.KindImage, "face.jpg", "blurred_job-1.jpg", types.Report{
		Kind:       types.KindImage,
		Descriptor: types.MediaDescriptor{Kind: types.KindImage, Width: 640, Height: 480},
		Frames:     1,
		Faces:      2,
		Elapsed:    250 * time.Millisecond,
	}, nil)
	require.NoError(t, s.RecordJob(ctx, okJob))

	failedJob := NewJob("job-2", types.KindVideo, "clip.mp4", "", types.Report{}, errors.New("moov atom not found"))
	require.NoError(t, s.RecordJob(ctx, failedJob))

	jobs, err := s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byID := map[string]Job{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	got := byID["job-1"]
	require.Equal(t, types.KindImage, got.Kind)
	require.Equal(t, 2, got.Faces)
	require.Equal(t, 640, got.Width)
	require.Equal(t, 250*time.Millisecond, got.Elapsed)
	require.False(t, got.CreatedAt.IsZero())
	require.Equal(t, StatusFailed, byID["job-2"].Status)
	require.Equal(t, "moov atom not found", byID["job-2"].Error)

	limited, err := s.ListJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	// Re-recording an ID updates it in place
	okJob.Faces = 3
	require.NoError(t, s.RecordJob(ctx, okJob))
	jobs, err = s.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.NoError(t, s.Reset(ctx))
	_, err = s.ListJobs(ctx, 0)
	require.Error(t, err, "table should be gone after Reset")
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
