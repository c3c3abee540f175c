package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pomconv/internal/model"
	"pomconv/pkg/logger"
)

// DiskWriter writes each mapping entry to <root>/<key><ext>.
type DiskWriter struct {
	root string
	ext  string
	mu   sync.Mutex
}

func NewDiskWriter(root, ext string) *DiskWriter {
	return &DiskWriter{
		root: root,
		ext:  ext,
	}
}

func (d *DiskWriter) Init() error {
	abs, err := filepath.Abs(d.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	d.root = abs

	logger.Infof("Output directory ready: %s", abs)
	return nil
}

func (d *DiskWriter) Close() error {
	return nil
}

// Root is the directory files are written under.
func (d *DiskWriter) Root() string {
	return d.root
}

// Write is all-or-nothing: every file is staged as a temp file next to its
// target, then the temps are renamed into place. Any failure removes the
// staged files and restores whatever the committed renames replaced.
func (d *DiskWriter) Write(ctx context.Context, files model.OutputMapping) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrEmptyMapping
	}

	keys := files.Keys()
	targets := make([]string, len(keys))
	for i, key := range keys {
		target, err := d.resolve(key)
		if err != nil {
			return nil, err
		}
		targets[i] = target
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	staged := make([]stagedFile, 0, len(keys))
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			discard(staged)
			return nil, err
		}
		f, err := stage(targets[i], files[key])
		if err != nil {
			discard(staged)
			return nil, fmt.Errorf("%w: %s: %v", ErrFileOperation, key, err)
		}
		staged = append(staged, f)
	}

	for i := range staged {
		if err := staged[i].commit(); err != nil {
			for j := i - 1; j >= 0; j-- {
				staged[j].rollback()
			}
			discard(staged[i:])
			return nil, fmt.Errorf("%w: %s: %v", ErrFileOperation, keys[i], err)
		}
	}

	for _, f := range staged {
		f.finish()
	}
	logger.Infof("Wrote %d file(s) under %s", len(targets), d.root)
	return targets, nil
}

// stagedFile is one pending write. backup holds the displaced previous file
// once committed over an existing target.
type stagedFile struct {
	target string
	temp   string
	backup string
}

func stage(target, content string) (stagedFile, error) {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return stagedFile{}, fmt.Errorf("%s is a directory", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return stagedFile{}, err
	}
	temp := target + ".tmp"
	if err := os.WriteFile(temp, []byte(content), 0644); err != nil {
		os.Remove(temp)
		return stagedFile{}, err
	}
	return stagedFile{target: target, temp: temp}, nil
}

func (f *stagedFile) commit() error {
	if _, err := os.Lstat(f.target); err == nil {
		backup := f.target + ".bak"
		if err := os.Rename(f.target, backup); err != nil {
			return err
		}
		f.backup = backup
	}
	if err := os.Rename(f.temp, f.target); err != nil {
		if f.backup != "" {
			os.Rename(f.backup, f.target)
			f.backup = ""
		}
		return err
	}
	f.temp = ""
	return nil
}

func (f *stagedFile) rollback() {
	os.Remove(f.target)
	if f.backup != "" {
		os.Rename(f.backup, f.target)
	}
}

func (f *stagedFile) finish() {
	if f.backup != "" {
		os.Remove(f.backup)
	}
}

func discard(files []stagedFile) {
	for _, f := range files {
		if f.temp != "" {
			os.Remove(f.temp)
		}
	}
}

func (d *DiskWriter) resolve(key string) (string, error) {
	if key == "" || filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	target := filepath.Join(d.root, filepath.FromSlash(key)+d.ext)
	rel, err := filepath.Rel(d.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidPath, key, d.root)
	}
	return target, nil
}
