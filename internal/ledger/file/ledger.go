// Package file implements an append-only, newline-delimited ledger file.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

// Ledger records one identifier per line and fsyncs after every append.
type Ledger struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns a ledger backed by path. The file is created on first Append.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// Load reads all recorded identifiers. A missing file is a fresh run. A
// trailing line without its newline was torn by a crash and is ignored.
func (l *Ledger) Load(_ context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	lines := strings.Split(string(data), "\n")
	// The last element is "" for a well-formed file, or a torn partial line.
	for _, line := range lines[:len(lines)-1] {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Append durably records id. Once it returns nil the identifier survives a crash.
func (l *Ledger) Append(_ context.Context, id string) error {
	if id == "" || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("invalid ledger identifier %q", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openLocked(); err != nil {
		return err
	}
	if _, err := l.f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append ledger %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync ledger %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	return nil
}

// Close releases the file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("close ledger %s: %w", l.path, err)
	}
	return nil
}

func (l *Ledger) openLocked() error {
	if l.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir for %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	if err := dropTornLine(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("repair ledger %s: %w: %w", l.path, harvest.ErrStorage, err)
	}
	l.f = f
	return nil
}

// dropTornLine truncates a trailing partial line left by a crash mid-append.
// The identifier on that line was never acknowledged, so it is discarded.
func dropTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if idx := bytes.LastIndexByte(buf[:n], '\n'); idx >= 0 {
			keep := start + int64(idx) + 1
			if keep == size {
				return nil
			}
			return truncate(f, keep)
		}
		end = start
	}
	return truncate(f, 0)
}

func truncate(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return f.Sync()
}
