package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// Source enumerates log files and opens them
type Source interface {
	// List returns the identifiers of the available log files
	List(ctx context.Context) ([]string, error)

	// Open returns the content of one log file
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// DirSource serves the regular files of one directory
type DirSource struct {
	fs  afero.Fs
	dir string
}

// NewDirSource creates a source over dir
func NewDirSource(fsys afero.Fs, dir string) *DirSource {
	return &DirSource{fs: fsys, dir: dir}
}

// List returns the names of the files in the directory, sorted.
// Hidden files and subdirectories are ignored.
func (s *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Mode().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ids = append(ids, entry.Name())
	}
	slices.Sort(ids)

	return ids, nil
}

// Open opens the file named id
func (s *DirSource) Open(_ context.Context, id string) (io.ReadCloser, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid log file name %q", id)
	}

	f, err := s.fs.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", id, err)
	}
	return f, nil
}

// CachingSource keeps a local copy of every file it opens from a remote source
type CachingSource struct {
	src    Source
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewCachingSource caches the files of src under dir
func NewCachingSource(src Source, fsys afero.Fs, dir string, logger *slog.Logger) *CachingSource {
	return &CachingSource{src: src, fs: fsys, dir: dir, logger: logger}
}

// List returns the identifiers of the wrapped source
func (c *CachingSource) List(ctx context.Context) ([]string, error) {
	return c.src.List(ctx)
}

// Open serves id from the cache, downloading it first when missing
func (c *CachingSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	path := c.cachePath(id)

	f, err := c.fs.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to open cached copy of %s: %w", id, err)
	}

	if err := c.download(ctx, id, path); err != nil {
		return nil, err
	}

	f, err = c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached copy of %s: %w", id, err)
	}
	return f, nil
}

// Cached reports whether id has a local copy
func (c *CachingSource) Cached(id string) bool {
	ok, err := afero.Exists(c.fs, c.cachePath(id))
	return err == nil && ok
}

func (c *CachingSource) cachePath(id string) string {
	// Object keys contain slashes; the cache is flat
	return filepath.Join(c.dir, url.PathEscape(id))
}

// download copies id to a temporary file, then renames it so that
// an interrupted download never leaves a truncated copy behind
func (c *CachingSource) download(ctx context.Context, id, path string) error {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.dir, err)
	}

	remote, err := c.src.Open(ctx, id)
	if err != nil {
		return err
	}
	defer func() { _ = remote.Close() }()

	tmp, err := afero.TempFile(c.fs, c.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, copyErr := io.Copy(tmp, remote)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = c.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to download %s: %w", id, copyErr)
	}

	if err := c.fs.Rename(tmp.Name(), path); err != nil {
		_ = c.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to store cached copy of %s: %w", id, err)
	}

	c.logger.Debug("cached log file", "sourceFile", id, "sizeBytes", n)
	return nil
}
