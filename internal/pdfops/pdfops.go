// Package pdfops performs page-level PDF operations in-process. Like image
// transforms these are atomic steps with a coarse two-point progress signal.
package pdfops

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"mediaforge/internal/runner"
)

// Service wraps pdfcpu operations.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Merge concatenates the inputs into a single document, in order.
func (s *Service) Merge(inputPaths []string, outputPath string, cb func(percent int, message string)) error {
	if len(inputPaths) < 2 {
		return fmt.Errorf("merge requires at least two documents, got %d", len(inputPaths))
	}
	for _, p := range inputPaths {
		if _, err := os.Stat(p); err != nil {
			return &runner.ToolError{Kind: runner.FailureInputMissing, Detail: p}
		}
	}
	if cb != nil {
		cb(0, "merging documents")
	}
	if err := api.MergeCreateFile(inputPaths, outputPath, false, nil); err != nil {
		return fmt.Errorf("merge documents: %w", err)
	}
	if cb != nil {
		cb(99, "merged document written")
	}
	return nil
}

// Split writes one document per span pages into outDir. A span of 1 produces
// one file per page.
func (s *Service) Split(inputPath, outDir string, span int, cb func(percent int, message string)) error {
	if _, err := os.Stat(inputPath); err != nil {
		return &runner.ToolError{Kind: runner.FailureInputMissing, Detail: inputPath}
	}
	if span <= 0 {
		span = 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create split output dir: %w", err)
	}
	if cb != nil {
		cb(0, "splitting document")
	}
	if err := api.SplitFile(inputPath, outDir, span, nil); err != nil {
		return fmt.Errorf("split document: %w", err)
	}
	if cb != nil {
		cb(99, "split pages written")
	}
	return nil
}
