package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "divorcecast/internal/errors"
)

// FileCheck is the preflight outcome for one configured input file.
type FileCheck struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	OK      bool   `json:"ok"`
	Size    int64  `json:"size"`
	Problem string `json:"problem,omitempty"`
}

// FileValidator checks the data and output directories before a run.
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger.With(slog.String("component", "file_validator")),
	}
}

// ValidateInputDirectory fails when dir is missing or not a directory.
func (v *FileValidator) ValidateInputDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return apperrors.NewFileMissingError(dir, err)
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is not a directory", dir))
	}
	return nil
}

// ValidateOutputDirectory creates dir if needed and verifies it is writable.
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".write_test*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// ValidateCSVFile checks that path is a readable regular file with a .csv
// extension.
func (v *FileValidator) ValidateCSVFile(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, apperrors.NewFileMissingError(path, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, apperrors.NewAppValidationError(fmt.Sprintf("%s is a directory, not a file", path))
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".csv" {
		return 0, apperrors.NewAppValidationError(fmt.Sprintf("%s is not a CSV file (extension %q)", path, ext))
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("file %s is not readable: %w", path, err)
	}
	f.Close()
	return info.Size(), nil
}

// Preflight checks every named input file in dir. Missing files are
// reported, not returned as errors; the run decides which ones it needs.
func (v *FileValidator) Preflight(dir string, names []string) []FileCheck {
	checks := make([]FileCheck, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		c := FileCheck{Name: name, Path: filepath.Join(dir, name)}
		size, err := v.ValidateCSVFile(c.Path)
		if err != nil {
			c.Problem = err.Error()
			v.logger.Warn("Input file unavailable",
				slog.String("file", name),
				slog.String("reason", c.Problem))
		} else {
			c.OK = true
			c.Size = size
		}
		checks = append(checks, c)
	}

	v.logger.Info("Input preflight complete",
		slog.String("directory", dir),
		slog.Int("files", len(checks)),
		slog.Int("available", countOK(checks)))
	return checks
}

func countOK(checks []FileCheck) int {
	n := 0
	for _, c := range checks {
		if c.OK {
			n++
		}
	}
	return n
}
