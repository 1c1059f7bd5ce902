package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/bapelauto/coord/internal/fsutil"
)

// ErrCorruptFile is returned when a configuration file cannot be parsed.
var ErrCorruptFile = errors.New("configuration file is corrupt")

// SharedFile edits the shared layer directly, without an instance. It is
// used by operator tooling; running instances pick the changes up the next
// time they fall back to the shared layer.
type SharedFile struct {
	fs   afero.Fs
	path string
}

// NewSharedFile returns the shared layer file under baseDir.
func NewSharedFile(fs afero.Fs, baseDir string) *SharedFile {
	return &SharedFile{fs: fs, path: filepath.Join(baseDir, SharedFileName)}
}

// Path returns the location of the shared file.
func (f *SharedFile) Path() string {
	return f.path
}

// Read returns the effective values seen by an instance without its own
// file: the shared file when present, otherwise the defaults. Unlike a Store
// it never deletes a corrupt file; it reports ErrCorruptFile instead.
func (f *SharedFile) Read() (map[string]string, Layer, error) {
	values, err := ReadFile(f.fs, f.path)
	switch {
	case err == nil:
		return values, LayerShared, nil
	case errors.Is(err, os.ErrNotExist):
		return Defaults(), LayerDefaults, nil
	default:
		return nil, LayerDefaults, err
	}
}

// Write replaces the shared file with values.
func (f *SharedFile) Write(ctx context.Context, values map[string]string) error {
	return WriteFile(ctx, f.fs, f.path, values, "bapelauto shared configuration")
}

// Reset writes the defaults to the shared file.
func (f *SharedFile) Reset(ctx context.Context) error {
	return f.Write(ctx, Defaults())
}

// ReadFile parses the .properties file at path. A missing file yields an
// error matching os.ErrNotExist.
func ReadFile(fs afero.Fs, path string) (map[string]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	values, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, path, err)
	}
	return values, nil
}

// WriteFile atomically writes values to path as a .properties document.
func WriteFile(ctx context.Context, fs afero.Fs, path string, values map[string]string, header string) error {
	data, err := encode(values, header)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	return fsutil.RetryOnce(ctx, func() error {
		return fsutil.AtomicWriteFile(fs, path, data, 0o644)
	})
}
