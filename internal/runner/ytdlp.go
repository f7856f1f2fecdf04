package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"mediaforge/internal/models"
)

// Phase names the sub-step a remote job is in. A download job moves through
// the download phase and, once the tool starts merging or extracting, the
// convert phase.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseConvert  Phase = "convert"
)

// DownloadProgressFunc receives per-line progress parsed from yt-dlp output.
// Percentages are clamped to [0,99]; the convert phase is coarse (the tool's
// post-processors do not report percentages).
type DownloadProgressFunc func(phase Phase, percent int, message string)

// YtDlp wraps the remote media fetcher binary.
type YtDlp struct {
	logger *slog.Logger
	Bin    string
}

func NewYtDlp(logger *slog.Logger) *YtDlp {
	return &YtDlp{logger: logger, Bin: "yt-dlp"}
}

// DownloadSpec describes one remote fetch.
type DownloadSpec struct {
	JobID        string
	SourceURL    string
	Mode         models.DownloadMode
	Resolution   int
	AudioFormat  string
	AudioBitrate int
	OutputDir    string
}

var (
	reDownloadPct = regexp.MustCompile(`\[download\]\s+([0-9]+(?:\.[0-9]+)?)%`)

	// Post-processor markers that move the job from download to convert.
	convertMarkers = []string{"[Merger]", "[ExtractAudio]", "[VideoConvertor]", "[VideoRemuxer]", "[ffmpeg]", "[Fixup"}
)

// Download runs the fetcher once with the full ordered format chain and
// returns the artifact path. The tool walks the chain itself; a failed
// invocation is one terminal failure, never re-run with another chain.
func (y *YtDlp) Download(ctx context.Context, spec DownloadSpec, cb DownloadProgressFunc) (string, error) {
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-warnings",
		"-o", filepath.Join(spec.OutputDir, spec.JobID+".%(ext)s"),
	}
	switch spec.Mode {
	case models.ModeAudio:
		format := strings.ToLower(strings.TrimSpace(spec.AudioFormat))
		if format == "" {
			format = "mp3"
		}
		bitrate := spec.AudioBitrate
		if bitrate <= 0 {
			bitrate = 192
		}
		args = append(args,
			"-f", AudioFormatChain(),
			"-x",
			"--audio-format", format,
			"--audio-quality", fmt.Sprintf("%dK", bitrate),
		)
	default:
		args = append(args,
			"-f", FormatChain(spec.Resolution),
			"--merge-output-format", "mp4",
		)
	}
	args = append(args, spec.SourceURL)

	cmd := exec.CommandContext(ctx, y.Bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("create yt-dlp stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("create yt-dlp stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", &ToolError{Kind: FailureGeneric, Detail: fmt.Sprintf("start yt-dlp: %v", err)}
	}

	var tail lineTail
	parser := newDownloadParser(cb)

	var wg sync.WaitGroup
	read := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			tail.Add(line)
			parser.Handle(line)
		}
	}
	wg.Add(2)
	go read(stdout)
	go read(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", classifyToolFailure("yt-dlp", err, tail.String())
	}

	matches, err := filepath.Glob(filepath.Join(spec.OutputDir, spec.JobID+".*"))
	if err != nil || len(matches) == 0 {
		return "", &ToolError{Kind: FailureGeneric, Detail: "yt-dlp reported success but produced no artifact"}
	}
	return matches[0], nil
}

// downloadParser turns the fetcher's line stream into phase-tagged progress.
// Percentages within a phase only move forward.
type downloadParser struct {
	cb    DownloadProgressFunc
	phase Phase
	last  int
}

func newDownloadParser(cb DownloadProgressFunc) *downloadParser {
	return &downloadParser{cb: cb, phase: PhaseDownload, last: -1}
}

func (p *downloadParser) Handle(line string) {
	if p.cb == nil {
		return
	}
	l := strings.TrimSpace(line)
	if l == "" {
		return
	}

	for _, marker := range convertMarkers {
		if strings.HasPrefix(l, marker) {
			if p.phase != PhaseConvert {
				p.phase = PhaseConvert
				p.last = -1
			}
			p.cb(PhaseConvert, 0, l)
			return
		}
	}

	if p.phase != PhaseDownload {
		return
	}
	if m := reDownloadPct.FindStringSubmatch(l); len(m) > 1 {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return
		}
		clamped := clampRunning(int(pct))
		if clamped > p.last {
			p.last = clamped
			p.cb(PhaseDownload, clamped, l)
		}
	}
}

// FormatChain translates a requested vertical resolution into the ordered
// format-preference string handed to the fetcher in a single invocation.
// Entries are ordered from the best combined progressive stream at or below
// the requested height down to a universal low-quality fallback, keeping
// segmented HLS delivery out of the preferred entries because remote
// services reject it unpredictably.
func FormatChain(height int) string {
	if height <= 0 {
		height = 1080
	}
	entries := []string{
		fmt.Sprintf("b[height<=%d][protocol^=https]", height),
		fmt.Sprintf("bv*[height<=%d][protocol!*=m3u8]+ba[protocol!*=m3u8]", height),
		fmt.Sprintf("b[height<=%d][protocol!*=m3u8]", height),
		fmt.Sprintf("bv*[height<=%d]+ba", height),
		"b[height<=480][protocol!*=m3u8]",
		"18",
		"b",
	}
	return strings.Join(entries, "/")
}

// AudioFormatChain is the audio-mode counterpart of FormatChain.
func AudioFormatChain() string {
	entries := []string{
		"ba[protocol^=https]",
		"ba[protocol!*=m3u8]",
		"ba",
		"b",
	}
	return strings.Join(entries, "/")
}

// DetectPlatform labels a source URL by host for display purposes.
func DetectPlatform(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case strings.Contains(host, "youtube") || host == "youtu.be":
		return "youtube"
	case strings.Contains(host, "vimeo"):
		return "vimeo"
	case strings.Contains(host, "soundcloud"):
		return "soundcloud"
	case strings.Contains(host, "twitch"):
		return "twitch"
	case host == "":
		return "unknown"
	default:
		return host
	}
}

// yt-dlp rewrites progress lines in place with carriage returns; treat CR as
// a line boundary so every update is seen.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
