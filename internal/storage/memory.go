package storage

import (
	"context"
	"sort"
	"sync"

	"pomconv/internal/model"
)

// MemoryWriter keeps written files in memory, keyed by output path.
type MemoryWriter struct {
	ext   string
	files map[string]string
	mu    sync.RWMutex
}

func NewMemoryWriter(ext string) *MemoryWriter {
	return &MemoryWriter{
		ext:   ext,
		files: make(map[string]string),
	}
}

func (m *MemoryWriter) Init() error {
	return nil
}

func (m *MemoryWriter) Close() error {
	return nil
}

func (m *MemoryWriter) Write(ctx context.Context, files model.OutputMapping) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrEmptyMapping
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	written := make([]string, 0, len(files))
	for _, key := range files.Keys() {
		path := key + m.ext
		m.files[path] = files[key]
		written = append(written, path)
	}
	return written, nil
}

// Files returns a copy of everything written so far.
func (m *MemoryWriter) Files() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

// Paths lists written paths in order.
func (m *MemoryWriter) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for k := range m.files {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}
