// Package pdf normalizes PDF files page by page using poppler's pdftotext.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
)

var _ normalizer.Normalizer = (*Normalizer)(nil)

const toolName = "pdftotext"

// ErrPDFToolNotFound is returned when pdftotext is not on PATH.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// Normalizer emits one Document per non-blank page.
type Normalizer struct {
	runner CommandRunner
}

// New creates a PDF normalizer that shells out to pdftotext.
func New() *Normalizer { return NewWithRunner(execRunner{}) }

// NewWithRunner creates a PDF normalizer with a custom command runner.
func NewWithRunner(r CommandRunner) *Normalizer { return &Normalizer{runner: r} }

// Kind returns domain.SourcePDF.
func (n *Normalizer) Kind() domain.SourceKind { return domain.SourcePDF }

// Normalize extracts the text of src and splits it into pages.
func (n *Normalizer) Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error) {
	path := src.Path
	if path == "" {
		if len(src.Data) == 0 {
			return normalizer.Result{}, fmt.Errorf("%w: pdf source %q has neither data nor path",
				domain.ErrInvalidInput, src.Name)
		}
		tmp, cleanup, err := spill(src.Data)
		if err != nil {
			return normalizer.Result{}, err
		}
		defer cleanup()
		path = tmp
	}
	name := normalizer.DisplayName(src)

	out, err := n.runner.Run(ctx, toolName, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return normalizer.Result{}, err
		}
		return normalizer.Result{}, domain.NewNormalizationError(name, "", err)
	}

	var res normalizer.Result
	for i, page := range strings.Split(string(out), "\f") {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		res.Documents = append(res.Documents, domain.NewDocument(text, domain.Metadata{
			"source": name,
			"page":   int64(i),
		}))
	}
	if len(res.Documents) == 0 {
		res.Skipped = append(res.Skipped,
			domain.NewNormalizationError(name, strconv.Itoa(0), errors.New("no extractable text")))
	}
	return res, nil
}

func spill(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "bmae-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp pdf: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp pdf: %w", err)
	}
	return f.Name(), cleanup, nil
}

// CheckAvailable reports whether pdftotext can be found on PATH.
func CheckAvailable() error {
	if _, err := exec.LookPath(toolName); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return `PDF ingestion requires pdftotext (poppler).
  macOS:         brew install poppler
  Debian/Ubuntu: apt install poppler-utils
  Fedora:        dnf install poppler-utils`
}
