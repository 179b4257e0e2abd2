package validation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "divorcecast/internal/errors"
)

func newValidator() *FileValidator {
	return NewFileValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFileValidator_ValidateInputDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "divorce_all_model.csv")
	require.NoError(t, os.WriteFile(file, []byte("ds,Divorce\n"), 0644))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"existing directory", dir, nil},
		{"missing directory", filepath.Join(dir, "nope"), apperrors.ErrFileMissing},
		{"file instead of directory", file, apperrors.ErrInvalid},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInputDirectory(tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFileValidator_ValidateOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")

	require.NoError(t, newValidator().ValidateOutputDirectory(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe must be removed")
}

func TestFileValidator_ValidateCSVFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "regional.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Year_BE,Province\n"), 0644))
	xlsxPath := filepath.Join(dir, "regional.xlsx")
	require.NoError(t, os.WriteFile(xlsxPath, []byte("x"), 0644))

	tests := []struct {
		name     string
		path     string
		wantSize int64
		wantErr  error
	}{
		{"csv file", csvPath, 17, nil},
		{"missing file", filepath.Join(dir, "missing.csv"), 0, apperrors.ErrFileMissing},
		{"wrong extension", xlsxPath, 0, apperrors.ErrInvalid},
		{"directory", dir, 0, apperrors.ErrInvalid},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := v.ValidateCSVFile(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

func TestFileValidator_Preflight(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x,y\n"), 0644))

	checks := newValidator().Preflight(dir, []string{"a.csv", "", "b.csv"})

	require.Len(t, checks, 2)
	assert.True(t, checks[0].OK)
	assert.Equal(t, int64(4), checks[0].Size)
	assert.False(t, checks[1].OK)
	assert.Contains(t, checks[1].Problem, "b.csv")
}
