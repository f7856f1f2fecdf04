package runner

import (
	"fmt"
	"strings"
	"sync"
)

// FailureKind buckets external-tool failures into the classes the UI can
// explain to a user.
type FailureKind string

const (
	FailureInputMissing  FailureKind = "input-missing"
	FailureAgeRestricted FailureKind = "age-restricted"
	FailureGeoBlocked    FailureKind = "geo-blocked"
	FailurePrivate       FailureKind = "private-content"
	FailureUnavailable   FailureKind = "unavailable"
	FailureGeneric       FailureKind = "external-tool-failure"
)

// ToolError is the terminal outcome of a failed external operation.
type ToolError struct {
	Kind   FailureKind
	Detail string
}

func (e *ToolError) Error() string {
	msg := e.Message()
	if e.Detail == "" {
		return msg
	}
	return msg + ": " + e.Detail
}

// Message returns the human-readable classification without tool output.
func (e *ToolError) Message() string {
	switch e.Kind {
	case FailureInputMissing:
		return "input file is missing"
	case FailureAgeRestricted:
		return "the source is age-restricted"
	case FailureGeoBlocked:
		return "the source is not available in this region"
	case FailurePrivate:
		return "the source is private"
	case FailureUnavailable:
		return "the source is unavailable or has been removed"
	default:
		return "external tool failed"
	}
}

// classifyOutput inspects tool output for substrings that identify known
// rejection reasons. Ordering matters: the more specific classes win over
// the catch-all "unavailable".
func classifyOutput(output string) FailureKind {
	l := strings.ToLower(output)
	switch {
	case strings.Contains(l, "age-restricted"),
		strings.Contains(l, "age restricted"),
		strings.Contains(l, "confirm your age"):
		return FailureAgeRestricted
	case strings.Contains(l, "not available in your country"),
		strings.Contains(l, "blocked it in your country"),
		strings.Contains(l, "geo restriction"):
		return FailureGeoBlocked
	case strings.Contains(l, "private"):
		return FailurePrivate
	case strings.Contains(l, "unavailable"),
		strings.Contains(l, "has been removed"),
		strings.Contains(l, "does not exist"):
		return FailureUnavailable
	default:
		return FailureGeneric
	}
}

func classifyToolFailure(tool string, err error, output string) *ToolError {
	detail := strings.TrimSpace(output)
	if detail == "" {
		detail = fmt.Sprintf("%s: %v", tool, err)
	}
	return &ToolError{Kind: classifyOutput(output), Detail: detail}
}

// lineTail keeps the last few non-empty lines of a stream for error
// reporting and classification.
type lineTail struct {
	mu    sync.Mutex
	lines []string
}

const tailKeep = 12

func (t *lineTail) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailKeep {
		t.lines = t.lines[len(t.lines)-tailKeep:]
	}
	t.mu.Unlock()
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
