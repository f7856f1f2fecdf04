package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"mediaforge/internal/models"
)

// ProgressFunc receives clamped progress updates while an external process
// runs. Values never reach 100 here; only the terminal success path pins a
// job to 100.
type ProgressFunc func(percent int, message string)

// FFmpeg wraps transcode operations backed by the ffmpeg and ffprobe
// binaries. Binary names are injectable so tests can point them at stubs.
type FFmpeg struct {
	logger     *slog.Logger
	FFmpegBin  string
	FFprobeBin string
}

func NewFFmpeg(logger *slog.Logger) *FFmpeg {
	return &FFmpeg{logger: logger, FFmpegBin: "ffmpeg", FFprobeBin: "ffprobe"}
}

// TranscodeSpec describes one local conversion: extract/transcode the input
// into the requested format, optionally trimming and tagging it.
type TranscodeSpec struct {
	InputPath  string
	OutputPath string
	Format     string
	Bitrate    int
	TrimStart  float64
	TrimEnd    float64
	Metadata   models.TrackMetadata
	AudioOnly  bool
}

// Transcode runs ffmpeg over the input and reports progress via cb. The
// percentage is derived from ffprobe's duration and ffmpeg's
// `-progress pipe:1` out_time_ms markers, clamped to [0,99].
func (f *FFmpeg) Transcode(ctx context.Context, spec TranscodeSpec, cb ProgressFunc) error {
	if _, err := os.Stat(spec.InputPath); err != nil {
		return &ToolError{Kind: FailureInputMissing, Detail: fmt.Sprintf("input artifact not found: %s", spec.InputPath)}
	}

	duration, err := f.probeDuration(ctx, spec.InputPath)
	if err != nil {
		f.logger.Warn("could not probe duration, progress will be coarse", "error", err)
	}
	duration = effectiveDuration(duration, spec.TrimStart, spec.TrimEnd)

	args := transcodeArgs(spec)

	cmd := exec.CommandContext(ctx, f.FFmpegBin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create ffmpeg stderr pipe: %w", err)
	}

	if cb != nil {
		cb(0, "starting conversion")
	}

	if err := cmd.Start(); err != nil {
		return &ToolError{Kind: FailureGeneric, Detail: fmt.Sprintf("start ffmpeg: %v", err)}
	}

	var errTail lineTail
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			errTail.Add(scanner.Text())
		}
	}()

	scanner := bufio.NewScanner(stdout)
	progress := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if msStr, ok := strings.CutPrefix(line, "out_time_ms="); ok && duration > 0 {
			outMs, convErr := strconv.ParseFloat(msStr, 64)
			if convErr != nil {
				continue
			}
			pct := clampRunning(int(outMs / 1_000_000.0 / duration * 100))
			if pct > progress {
				progress = pct
				if cb != nil {
					cb(progress, "converting")
				}
			}
		}
		if strings.HasPrefix(line, "progress=end") {
			progress = 99
			if cb != nil {
				cb(progress, "finalizing output")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ffmpeg output: %w", err)
	}

	// Drain stderr fully before Wait closes the pipe, or the tail used for
	// classification can lose its final lines.
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return classifyToolFailure("ffmpeg", err, errTail.String())
	}
	return nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		f.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}
	val := strings.TrimSpace(string(out))
	if val == "" {
		return 0, errors.New("empty duration response")
	}
	dur, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration from ffprobe: %w", err)
	}
	return dur, nil
}

// effectiveDuration narrows the probed duration to the trim window so the
// percentage tracks the portion actually being written.
func effectiveDuration(total, start, end float64) float64 {
	if total <= 0 {
		return total
	}
	if end > start && end > 0 {
		if end > total {
			end = total
		}
		return end - start
	}
	if start > 0 && start < total {
		return total - start
	}
	return total
}

func transcodeArgs(spec TranscodeSpec) []string {
	args := []string{"-y"}
	if spec.TrimStart > 0 {
		args = append(args, "-ss", formatSeconds(spec.TrimStart))
	}
	if spec.TrimEnd > spec.TrimStart && spec.TrimEnd > 0 {
		args = append(args, "-to", formatSeconds(spec.TrimEnd))
	}
	args = append(args, "-i", spec.InputPath)
	if spec.AudioOnly {
		args = append(args, "-vn")
	}
	args = append(args, codecArgs(spec.Format, spec.Bitrate)...)
	args = append(args, metadataArgs(spec.Metadata)...)
	args = append(args,
		"-progress", "pipe:1",
		"-nostats",
		spec.OutputPath,
	)
	return args
}

func codecArgs(format string, bitrate int) []string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "mp3"
	}
	if bitrate <= 0 {
		bitrate = 192
	}
	kbps := fmt.Sprintf("%dk", bitrate)

	args := []string{"-f", format}
	switch format {
	case "mp3":
		args = append(args, "-codec:a", "libmp3lame", "-b:a", kbps)
	case "wav":
		args = append(args, "-codec:a", "pcm_s16le")
	case "aac", "m4a":
		args = append(args, "-codec:a", "aac", "-b:a", kbps)
	case "flac":
		args = append(args, "-codec:a", "flac", "-compression_level", "8")
	case "ogg":
		args = append(args, "-codec:a", "libvorbis", "-b:a", kbps)
	case "mp4":
		args = append(args, "-codec:v", "libx264", "-codec:a", "aac", "-b:a", kbps)
	case "webm":
		args = append(args, "-codec:v", "libvpx-vp9", "-codec:a", "libopus", "-b:a", kbps)
	default:
		args = append(args, "-codec:a", "copy")
	}
	return args
}

func metadataArgs(meta models.TrackMetadata) []string {
	var args []string
	if meta.Title != "" {
		args = append(args, "-metadata", "title="+meta.Title)
	}
	if meta.Artist != "" {
		args = append(args, "-metadata", "artist="+meta.Artist)
	}
	if meta.Album != "" {
		args = append(args, "-metadata", "album="+meta.Album)
	}
	return args
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// clampRunning bounds an in-flight percentage to [0,99]; 100 is reserved for
// the terminal success handler.
func clampRunning(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}

// OutputName builds the artifact file name for a conversion job.
func OutputName(jobID, format string) string {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		format = "mp3"
	}
	return fmt.Sprintf("%s.%s", jobID, format)
}
