// Package images performs in-process image transforms plus the external
// background-removal step. These are short atomic operations with a coarse
// started/finished progress signal rather than continuous percentages.
package images

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"

	"mediaforge/internal/runner"
)

// StepFunc receives the coarse progress signal of an atomic operation.
type StepFunc func(percent int, message string)

// Service wraps image transforms. PythonBin and RemoveBGScript are
// injectable so tests can stub the external step.
type Service struct {
	logger         *slog.Logger
	PythonBin      string
	RemoveBGScript string
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger, PythonBin: "python3", RemoveBGScript: "scripts/remove_bg.py"}
}

// Resize scales the input to fit the given bounds (zero keeps aspect on that
// axis) and writes it in the format implied by the output extension.
func (s *Service) Resize(inputPath, outputPath string, width, height int, cb StepFunc) error {
	if width <= 0 && height <= 0 {
		return errors.New("at least one of width or height is required")
	}
	if cb != nil {
		cb(0, "resizing image")
	}
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		if os.IsNotExist(err) {
			return &runner.ToolError{Kind: runner.FailureInputMissing, Detail: inputPath}
		}
		return fmt.Errorf("decode image: %w", err)
	}
	resized := imaging.Resize(img, width, height, imaging.Lanczos)
	if err := imaging.Save(resized, outputPath); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if cb != nil {
		cb(99, "image written")
	}
	return nil
}

// Convert re-encodes the input into the format implied by the output
// extension.
func (s *Service) Convert(inputPath, outputPath string, cb StepFunc) error {
	if cb != nil {
		cb(0, "converting image")
	}
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		if os.IsNotExist(err) {
			return &runner.ToolError{Kind: runner.FailureInputMissing, Detail: inputPath}
		}
		return fmt.Errorf("decode image: %w", err)
	}
	if err := imaging.Save(img, outputPath); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if cb != nil {
		cb(99, "image written")
	}
	return nil
}

// RemoveBackground shells out to the rembg helper script and surfaces its
// stage lines as progress messages.
func (s *Service) RemoveBackground(ctx context.Context, inputPath, outputPath string, cb StepFunc) error {
	if _, err := os.Stat(inputPath); err != nil {
		return &runner.ToolError{Kind: runner.FailureInputMissing, Detail: inputPath}
	}
	if cb != nil {
		cb(0, "removing background")
	}

	cmd := exec.CommandContext(ctx, s.PythonBin, s.RemoveBGScript, inputPath, outputPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return &runner.ToolError{Kind: runner.FailureGeneric, Detail: fmt.Sprintf("start background removal: %v", err)}
	}

	var lastLine string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line
		if cb != nil && strings.HasPrefix(line, "[RemoveBG]") {
			cb(50, strings.TrimSpace(strings.TrimPrefix(line, "[RemoveBG]")))
		}
	}

	if err := cmd.Wait(); err != nil {
		return &runner.ToolError{Kind: runner.FailureGeneric, Detail: fmt.Sprintf("background removal failed: %s", lastLine)}
	}
	if _, err := os.Stat(outputPath); err != nil {
		return &runner.ToolError{Kind: runner.FailureGeneric, Detail: "background removal produced no output"}
	}
	if cb != nil {
		cb(99, "background removed")
	}
	return nil
}
