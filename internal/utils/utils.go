package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/andresmejia3/blurface/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (FFmpeg logs)
// This ensures we don't lose the reason a child process died.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Explain attaches the captured stderr to err. Only call it after Wait has returned.
func (s *SafeCommand) Explain(err error) error {
	if err == nil {
		return nil
	}
	if msg := strings.TrimSpace(s.Stderr.String()); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// ShowError prints a formatted error box, plus the child's logs if a SafeCommand is provided.
// Unlike a hard exit, this lets the caller return the error and run deferred cleanup.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 BLURFACE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// CheckFFmpeg verifies that the external video tools are installed
func CheckFFmpeg() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", bin, err)
		}
	}
	return nil
}

// --- 2. Video Probing ---

type ffprobeStream struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	AvgFrameRate  string `json:"avg_frame_rate"`
	NbFrames      string `json:"nb_frames"`
	NbReadPackets string `json:"nb_read_packets"`
	Tags          struct {
		Rotate string `json:"rotate"`
	} `json:"tags"`
	SideDataList []struct {
		Rotation int `json:"rotation"`
	} `json:"side_data_list"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// ProbeVideo reads the first video stream's geometry, frame rate and frame count.
// FrameCount is 0 if the container doesn't say and counting packets failed.
func ProbeVideo(ctx context.Context, path string) (types.MediaDescriptor, error) {
	cmd := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:stream_tags=rotate:stream_side_data=rotation:format=format_name",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return types.MediaDescriptor{}, cmd.Explain(fmt.Errorf("ffprobe failed: %w", err))
	}

	desc, err := parseProbe(out)
	if err != nil {
		return types.MediaDescriptor{}, err
	}
	if desc.FrameCount == 0 {
		desc.FrameCount = CountFrames(ctx, path)
	}
	return desc, nil
}

func parseProbe(out []byte) (types.MediaDescriptor, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return types.MediaDescriptor{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return types.MediaDescriptor{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return types.MediaDescriptor{}, fmt.Errorf("video stream has no dimensions")
	}

	// Prefer the average rate: for constant-rate video it equals r_frame_rate,
	// and for variable-rate video it keeps the output duration right.
	rate, err := ParseRational(s.AvgFrameRate)
	if err != nil {
		rate, err = ParseRational(s.RFrameRate)
		if err != nil {
			return types.MediaDescriptor{}, fmt.Errorf("video stream has no frame rate: %w", err)
		}
	}

	desc := types.MediaDescriptor{
		Kind:      types.KindVideo,
		Format:    res.Format.FormatName,
		Width:     s.Width,
		Height:    s.Height,
		FrameRate: rate,
	}

	// ffmpeg applies rotation metadata while decoding, so the frames we read are
	// transposed relative to the coded size.
	if isQuarterTurn(s) {
		desc.Width, desc.Height = desc.Height, desc.Width
	}

	if count, err := strconv.Atoi(s.NbFrames); err == nil && count > 0 {
		desc.FrameCount = count
	}
	return desc, nil
}

func isQuarterTurn(s ffprobeStream) bool {
	rotation := 0
	if len(s.SideDataList) > 0 && s.SideDataList[0].Rotation != 0 {
		rotation = s.SideDataList[0].Rotation
	} else if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
		rotation = r
	}
	rotation = ((rotation % 360) + 360) % 360
	return rotation == 90 || rotation == 270
}

// ParseRational parses ffprobe rates such as "30000/1001" or "25"
func ParseRational(s string) (types.Rational, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		den = "1"
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return types.Rational{}, fmt.Errorf("invalid rate %q", s)
	}
	d, err := strconv.Atoi(den)
	if err != nil {
		return types.Rational{}, fmt.Errorf("invalid rate %q", s)
	}
	r := types.Rational{Num: n, Den: d}
	if !r.Valid() {
		return types.Rational{}, fmt.Errorf("invalid rate %q", s)
	}
	return r, nil
}

// CountFrames counts packets of the first video stream. This is the slow path
// for containers with no frame count in their metadata; it returns 0 on failure.
func CountFrames(ctx context.Context, path string) int {
	cmd := NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// --- 3. Video Engine ---

// NewFFmpegRawDecoder streams every frame of the first video stream to Stdout as packed rgb24.
// passthrough keeps ffmpeg from dropping or duplicating frames to hit a constant rate.
// ffmpeg normally logs an undecodable packet and carries on, which would silently shorten
// the stream. -xerror and -err_detect explode make it exit non-zero instead.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-xerror",
		"-err_detect", "explode",
		"-i", inputPath,
		"-map", "0:v:0", "-an", "-sn",
		"-fps_mode", "passthrough",
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-")
}

// NewFFmpegEncoder reads packed rgb24 frames from Stdin and writes an H.264 MP4
// at exactly the given rate and size.
func NewFFmpegEncoder(ctx context.Context, outputPath string, rate types.Rational, width, height int) *SafeCommand {
	// 4:2:0 chroma needs even dimensions. Odd sizes keep full chroma rather than being cropped.
	pixFmt := "yuv420p"
	if width%2 != 0 || height%2 != 0 {
		pixFmt = "yuv444p"
	}
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", rate.String(),
		"-i", "-",
		"-an",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-pix_fmt", pixFmt,
		"-movflags", "+faststart",
		"-f", "mp4", outputPath)
}
