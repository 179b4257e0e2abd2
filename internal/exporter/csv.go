package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"divorcecast/internal/config"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter is the CSV layer shared by the forecast and region exporters.
type CSVWriter struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewCSVWriter creates a writer that resolves relative paths against the
// output directory. paths may be nil when only Encode is used.
func NewCSVWriter(paths *config.Paths, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{paths: paths, logger: logger}
}

// WriteOptions is one CSV document.
type WriteOptions struct {
	Headers []string
	Records [][]string
	// BOMPrefix makes Excel read the file as UTF-8, which Thai province
	// names need.
	BOMPrefix bool
}

// Encode writes the document to out.
func (w *CSVWriter) Encode(out io.Writer, doc WriteOptions) error {
	if doc.BOMPrefix {
		if _, err := out.Write(utf8BOM); err != nil {
			return fmt.Errorf("write BOM: %w", err)
		}
	}

	cw := csv.NewWriter(out)
	if len(doc.Headers) > 0 {
		if err := cw.Write(doc.Headers); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := cw.WriteAll(doc.Records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// WriteCSV replaces filePath with the document. The file is written to a
// temporary sibling and renamed, so readers never see a partial file.
func (w *CSVWriter) WriteCSV(filePath string, doc WriteOptions) error {
	fullPath := w.resolvePath(filePath)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", fullPath, err)
	}
	defer os.Remove(tmp.Name())

	if err := w.Encode(tmp, doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filePath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", fullPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("replace %s: %w", fullPath, err)
	}

	w.logger.Info("CSV written",
		slog.String("file", fullPath),
		slog.Int("records", len(doc.Records)))
	return nil
}

// WriteSimpleCSV writes a BOM-prefixed file with one header row.
func (w *CSVWriter) WriteSimpleCSV(filePath string, headers []string, records [][]string) error {
	return w.WriteCSV(filePath, WriteOptions{Headers: headers, Records: records, BOMPrefix: true})
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.paths == nil {
		return filePath
	}
	return w.paths.OutputFile(filePath)
}
