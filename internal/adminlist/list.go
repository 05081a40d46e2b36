package adminlist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dwizi/fixfox-bot/internal/heartbeat"
)

// List is the admin allow-list: the configured chat ids plus the ids read
// from an optional file that is reloaded whenever it changes on disk.
type List struct {
	static   []int64
	path     string
	logger   *slog.Logger
	reporter heartbeat.Reporter

	mu       sync.RWMutex
	fromFile []int64
}

func New(static []int64, path string, logger *slog.Logger) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{
		static: slices.Clone(static),
		path:   strings.TrimSpace(path),
		logger: logger.With("component", "adminlist"),
	}
}

func (l *List) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	l.reporter = reporter
}

// IDs returns the merged allow-list, sorted and without duplicates.
func (l *List) IDs() []int64 {
	l.mu.RLock()
	merged := make([]int64, 0, len(l.static)+len(l.fromFile))
	merged = append(merged, l.static...)
	merged = append(merged, l.fromFile...)
	l.mu.RUnlock()
	slices.Sort(merged)
	return slices.Compact(merged)
}

func (l *List) Contains(chatID int64) bool {
	return slices.Contains(l.IDs(), chatID)
}

// Load reads the file once. A missing file yields an empty file list.
// On a parse error the previous ids stay in effect.
func (l *List) Load() error {
	if l.path == "" {
		return nil
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.replace(nil)
			return nil
		}
		return fmt.Errorf("read admin list: %w", err)
	}
	ids, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("parse admin list %s: %w", l.path, err)
	}
	l.replace(ids)
	return nil
}

func (l *List) replace(ids []int64) {
	l.mu.Lock()
	l.fromFile = ids
	l.mu.Unlock()
}

// Parse accepts one chat id per line or comma separated ids. Blank lines
// and text after '#' are ignored.
func Parse(raw []byte) ([]int64, error) {
	var ids []int64
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if index := strings.IndexByte(line, '#'); index >= 0 {
			line = line[:index]
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid chat id %q", lineNumber, field)
			}
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Start loads the file and reloads it on every change until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (l *List) Start(ctx context.Context) error {
	if l.path == "" {
		if l.reporter != nil {
			l.reporter.Disabled(heartbeat.ComponentAdminList, "no admin list file")
		}
		<-ctx.Done()
		return nil
	}
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fileWatcher.Close()
	if err := fileWatcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch admin list dir: %w", err)
	}
	l.reload()
	l.logger.Info("admin list watcher started", "path", l.path)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("admin list watcher stopped")
			return nil
		case event, ok := <-fileWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			l.logger.Debug("admin list changed", "op", event.Op.String())
			l.reload()
		case err, ok := <-fileWatcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("file watcher error", "error", err)
		}
	}
}

func (l *List) reload() {
	if err := l.Load(); err != nil {
		l.logger.Error("admin list reload failed", "error", err)
		if l.reporter != nil {
			l.reporter.Degrade(heartbeat.ComponentAdminList, "reload failed", err)
		}
		return
	}
	ids := l.IDs()
	l.logger.Info("admin list loaded", "admins", len(ids))
	if l.reporter != nil {
		l.reporter.Beat(heartbeat.ComponentAdminList, fmt.Sprintf("%d admins", len(ids)))
	}
}
