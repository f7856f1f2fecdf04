package images

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaforge/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remove_bg.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestResize(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", 100, 40)
	out := filepath.Join(dir, "out.png")

	var percents []int
	err := NewService(testLogger()).Resize(in, out, 50, 0, func(p int, _ string) {
		percents = append(percents, p)
	})
	require.NoError(t, err)

	w, h := imageSize(t, out)
	assert.Equal(t, 50, w)
	assert.Equal(t, 20, h, "zero height keeps the aspect ratio")
	assert.Equal(t, []int{0, 99}, percents)
}

func TestResizeRequiresABound(t *testing.T) {
	err := NewService(testLogger()).Resize("in.png", "out.png", 0, 0, nil)
	assert.Error(t, err)
}

func TestResizeMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewService(testLogger()).Resize(filepath.Join(dir, "absent.png"), filepath.Join(dir, "out.png"), 10, 0, nil)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, runner.FailureInputMissing, toolErr.Kind)
}

func TestConvertChangesFormat(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", 20, 20)
	out := filepath.Join(dir, "out.jpg")

	require.NoError(t, NewService(testLogger()).Convert(in, out, nil))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	_, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestConvertMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewService(testLogger()).Convert(filepath.Join(dir, "absent.png"), filepath.Join(dir, "out.jpg"), nil)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, runner.FailureInputMissing, toolErr.Kind)
}

func TestRemoveBackgroundWithStubHelper(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", 10, 10)
	out := filepath.Join(dir, "out.png")

	s := NewService(testLogger())
	s.PythonBin = "sh"
	s.RemoveBGScript = writeScript(t, `
echo "[RemoveBG] loading model"
echo "[RemoveBG] processing image"
cp "$1" "$2"
echo "[RemoveBG] done"
exit 0
`)

	var messages []string
	err := s.RemoveBackground(context.Background(), in, out, func(_ int, msg string) {
		messages = append(messages, msg)
	})
	require.NoError(t, err)

	assert.FileExists(t, out)
	assert.Contains(t, messages, "processing image")
	assert.Equal(t, "background removed", messages[len(messages)-1])
}

func TestRemoveBackgroundHelperFailure(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", 10, 10)

	s := NewService(testLogger())
	s.PythonBin = "sh"
	s.RemoveBGScript = writeScript(t, `
echo "[RemoveBG] error: model missing"
exit 2
`)

	err := s.RemoveBackground(context.Background(), in, filepath.Join(dir, "out.png"), nil)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, runner.FailureGeneric, toolErr.Kind)
	assert.Contains(t, toolErr.Detail, "model missing")
}

func TestRemoveBackgroundMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewService(testLogger()).RemoveBackground(context.Background(), filepath.Join(dir, "absent.png"), filepath.Join(dir, "out.png"), nil)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, runner.FailureInputMissing, toolErr.Kind)
}

func TestRemoveBackgroundNoOutput(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", 10, 10)

	s := NewService(testLogger())
	s.PythonBin = "sh"
	s.RemoveBGScript = writeScript(t, `exit 0`)

	err := s.RemoveBackground(context.Background(), in, filepath.Join(dir, "out.png"), nil)

	var toolErr *runner.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Detail, "no output")
}
