package runner

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/internal/models"
)

type progressRecord struct {
	phase   Phase
	percent int
}

func collectProgress(records *[]progressRecord) DownloadProgressFunc {
	return func(phase Phase, percent int, message string) {
		*records = append(*records, progressRecord{phase, percent})
	}
}

func TestDownloadParserForwardsMonotonicPercent(t *testing.T) {
	var records []progressRecord
	p := newDownloadParser(collectProgress(&records))

	p.Handle("[download]  10.3% of 4.5MiB at 1.2MiB/s ETA 00:12")
	p.Handle("[download]  10.1% of 4.5MiB at 1.2MiB/s ETA 00:12") // stale, dropped
	p.Handle("[download]  55.0% of 4.5MiB at 1.2MiB/s ETA 00:04")
	p.Handle("[download] 100% of 4.5MiB in 00:10")

	require.Len(t, records, 3)
	assert.Equal(t, []progressRecord{
		{PhaseDownload, 10},
		{PhaseDownload, 55},
		{PhaseDownload, 99}, // clamped while the process is still running
	}, records)
}

func TestDownloadParserSwitchesPhaseOnMarker(t *testing.T) {
	var records []progressRecord
	p := newDownloadParser(collectProgress(&records))

	p.Handle("[download]  40.0% of 10MiB")
	p.Handle(`[Merger] Merging formats into "out.mp4"`)
	// Once converting, stray download lines no longer rewind the phase.
	p.Handle("[download]  10.0% of 1MiB")
	p.Handle("[ExtractAudio] Destination: out.mp3")

	require.Len(t, records, 3)
	assert.Equal(t, PhaseDownload, records[0].phase)
	assert.Equal(t, PhaseConvert, records[1].phase)
	assert.Equal(t, PhaseConvert, records[2].phase)
}

func TestDownloadParserIgnoresNoise(t *testing.T) {
	var records []progressRecord
	p := newDownloadParser(collectProgress(&records))

	p.Handle("")
	p.Handle("[youtube] abc123: Downloading webpage")
	p.Handle("[info] Downloading format 137")

	assert.Empty(t, records)
}

func TestFormatChain(t *testing.T) {
	chain := FormatChain(720)
	entries := strings.Split(chain, "/")

	require.GreaterOrEqual(t, len(entries), 4)
	assert.Contains(t, entries[0], "height<=720")
	assert.Contains(t, entries[0], "protocol^=https", "preferred entry is progressive https")
	assert.Contains(t, chain, "protocol!*=m3u8", "segmented delivery is excluded from preferred entries")
	assert.Equal(t, "b", entries[len(entries)-1], "chain ends with the universal fallback")

	// Height filters come before the unrestricted fallback.
	assert.Less(t, strings.Index(chain, "height<=720"), strings.LastIndex(chain, "/b"))
}

func TestFormatChainDefaultsHeight(t *testing.T) {
	assert.Contains(t, FormatChain(0), "height<=1080")
}

func TestAudioFormatChain(t *testing.T) {
	chain := AudioFormatChain()
	entries := strings.Split(chain, "/")
	assert.Equal(t, "ba[protocol^=https]", entries[0])
	assert.Equal(t, "b", entries[len(entries)-1])
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", "youtube"},
		{"https://youtu.be/abc", "youtube"},
		{"https://vimeo.com/12345", "vimeo"},
		{"https://soundcloud.com/artist/track", "soundcloud"},
		{"https://example.org/video", "example.org"},
		{"notaurl", "unknown"},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, DetectPlatform(tt.url), "url %s", tt.url)
	}
}

func TestSplitByNewlineOrCR(t *testing.T) {
	var lines []string
	data := "first\rsecond\nthird"
	rest := []byte(data)
	for len(rest) > 0 {
		advance, token, err := splitByNewlineOrCR(rest, true)
		require.NoError(t, err)
		if token != nil {
			lines = append(lines, string(token))
		}
		rest = rest[advance:]
	}
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestDownloadWithStubTool(t *testing.T) {
	y := NewYtDlp(testLogger())
	// The stub reads the -o template, emits both phases, and writes the
	// artifact the way the real tool resolves %(ext)s.
	y.Bin = writeScript(t, "yt-dlp", `
prev=""
tpl=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then tpl="$a"; fi
  prev="$a"
done
out=$(printf '%s' "$tpl" | sed 's/%(ext)s/mp4/')
echo "[download]  25.0% of 8MiB at 2MiB/s ETA 00:04"
echo "[download]  80.0% of 8MiB at 2MiB/s ETA 00:01"
echo "[download] 100% of 8MiB in 00:04"
echo "[Merger] Merging formats into \"$out\""
: > "$out"
exit 0
`)

	outDir := t.TempDir()
	var records []progressRecord
	path, err := y.Download(context.Background(), DownloadSpec{
		JobID:      "job1",
		SourceURL:  "https://example.org/video",
		Mode:       models.ModeVideo,
		Resolution: 720,
		OutputDir:  outDir,
	}, collectProgress(&records))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "job1.mp4"), path)
	assert.FileExists(t, path)

	require.NotEmpty(t, records)
	sawConvert := false
	for _, r := range records {
		if r.phase == PhaseConvert {
			sawConvert = true
		}
		assert.LessOrEqual(t, r.percent, 99)
	}
	assert.True(t, sawConvert, "merger marker must switch the job to the convert phase")
}

func TestDownloadPrivateVideoIsClassified(t *testing.T) {
	y := NewYtDlp(testLogger())
	y.Bin = writeScript(t, "yt-dlp", `
echo "ERROR: Private video. Sign in if you've been granted access" 1>&2
exit 1
`)

	_, err := y.Download(context.Background(), DownloadSpec{
		JobID:     "job2",
		SourceURL: "https://example.org/video",
		Mode:      models.ModeVideo,
		OutputDir: t.TempDir(),
	}, nil)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, FailurePrivate, toolErr.Kind)
}

func TestDownloadSuccessWithoutArtifactFails(t *testing.T) {
	y := NewYtDlp(testLogger())
	y.Bin = writeScript(t, "yt-dlp", `exit 0`)

	_, err := y.Download(context.Background(), DownloadSpec{
		JobID:     "job3",
		SourceURL: "https://example.org/video",
		Mode:      models.ModeVideo,
		OutputDir: t.TempDir(),
	}, nil)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, FailureGeneric, toolErr.Kind)
	assert.Contains(t, toolErr.Detail, "no artifact")
}
