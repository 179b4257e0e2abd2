package memo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	apperrors "divorcecast/internal/errors"
)

// Key namespaces.
const (
	NamespaceLoad     = "load"
	NamespaceForecast = "forecast"
	NamespaceTune     = "tune"
	NamespaceRegion   = "region"
)

// Key returns namespace:hex(xxhash64(json(args))). Maps are encoded with
// sorted keys, so equal arguments give equal keys.
func Key(namespace string, args ...any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key arguments: %w", err)
	}
	return fmt.Sprintf("%s:%016x", namespace, xxhash.Sum64(data)), nil
}

// LoadPrefix is the key prefix shared by every load entry of file.
func LoadPrefix(file string) string {
	return NamespaceLoad + ":" + filepath.Base(file) + ":"
}

// FileKey returns a load key for path that changes whenever the file
// contents change. extra distinguishes different reads of the same file.
func FileKey(path string, extra ...any) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperrors.NewFileMissingError(path, err)
		}
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	args, err := Key("", extra...)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%016x:%s", LoadPrefix(path), h.Sum64(), strings.TrimPrefix(args, ":")), nil
}

// namespaceOf returns the part of key before the first colon.
func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
