package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Joshi004/moments-pipeline/internal/procgroup"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// FFmpegExtractor is the production stage.MediaExtractor: it shells out
// to ffmpeg/ffprobe the way the teacher's ffmpeg.Runner shells out to
// ffmpeg — argument slices built in Go (never a shell string, which
// would open a command-injection path on attacker-influenced paths),
// process group set via internal/procgroup so a context cancellation
// reaps the whole subprocess tree.
type FFmpegExtractor struct {
	FFmpegBin  string
	FFprobeBin string
}

// NewFFmpegExtractor returns an extractor using the system ffmpeg/ffprobe
// binaries.
func NewFFmpegExtractor() *FFmpegExtractor {
	return &FFmpegExtractor{FFmpegBin: "ffmpeg", FFprobeBin: "ffprobe"}
}

func (e *FFmpegExtractor) bin(name string) string {
	if name != "" {
		return name
	}
	return "ffmpeg"
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Probe runs ffprobe -show_format -show_streams and extracts duration,
// resolution, codec list and frame rate.
func (e *FFmpegExtractor) Probe(ctx context.Context, mediaPath string) (stage.MediaInfo, error) {
	ffprobe := e.FFprobeBin
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		mediaPath,
	)
	procgroup.Set(cmd)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stage.MediaInfo{}, fmt.Errorf("ffprobe: %w: %s", err, lastLines(stderr.String(), 20))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return stage.MediaInfo{}, fmt.Errorf("ffprobe: decode output: %w", err)
	}

	info := stage.MediaInfo{}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.DurationMS = int64(d * 1000)
	}
	var codecs []string
	for _, s := range out.Streams {
		if s.CodecName != "" {
			codecs = append(codecs, s.CodecName)
		}
		if s.CodecType == "video" {
			info.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			info.FPS = parseFrameRate(s.RFrameRate)
		}
	}
	info.Codecs = strings.Join(codecs, ",")
	return info, nil
}

// ExtractAudio produces a wav from mediaPath at destPath.
func (e *FFmpegExtractor) ExtractAudio(ctx context.Context, mediaPath, destPath string) error {
	ffmpeg := e.bin(e.FFmpegBin)
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", mediaPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		destPath,
	)
	procgroup.Set(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extract: %w: %s", err, lastLines(stderr.String(), 20))
	}
	return nil
}

// ExtractClip cuts [startSeconds, endSeconds) from mediaPath into destPath
// with a stream copy where possible, falling back to re-encode is left to
// the operator's ffmpeg build defaults (spec treats this as a black box).
func (e *FFmpegExtractor) ExtractClip(ctx context.Context, mediaPath, destPath string, startSeconds, endSeconds float64) error {
	if endSeconds <= startSeconds {
		return fmt.Errorf("ffmpeg clip extract: invalid window [%f, %f)", startSeconds, endSeconds)
	}
	ffmpeg := e.bin(e.FFmpegBin)
	duration := endSeconds - startSeconds
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(startSeconds, 'f', 3, 64),
		"-i", mediaPath,
		"-t", strconv.FormatFloat(duration, 'f', 3, 64),
		"-c", "copy",
		destPath,
	)
	procgroup.Set(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg clip extract: %w: %s", err, lastLines(stderr.String(), 20))
	}
	return nil
}

func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

var _ stage.MediaExtractor = (*FFmpegExtractor)(nil)
