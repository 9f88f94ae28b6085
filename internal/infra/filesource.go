package infra

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
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// DefaultFileBuffer is the number of unread lines kept per FileSource.
const DefaultFileBuffer = 1000

// tailedFile tracks the read position in one log file.
type tailedFile struct {
	path    string
	label   string
	info    os.FileInfo
	offset  int64
	partial []byte
}

// FileSource implements domain.LogSource by tailing plain log files.
// Appended lines are collected on fsnotify write events into a bounded
// buffer, oldest dropped first, and drained by Since. Each line is
// prefixed with the file's label so the classifier can attribute it.
type FileSource struct {
	mu       sync.Mutex
	files    map[string]*tailedFile
	buffer   []string
	capacity int
	dropped  int
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	done     chan struct{}
}

// NewFileSource creates a source for paths. Nothing is read until Start.
func NewFileSource(paths []string, logger *zap.Logger) *FileSource {
	files := make(map[string]*tailedFile, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		files[abs] = &tailedFile{path: abs, label: FileLabel(abs)}
	}
	return &FileSource{
		files:    files,
		capacity: DefaultFileBuffer,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// FileLabel is the process label attached to lines from path: the base
// name without extension ("/var/log/nginx/error.log" -> "error").
func FileLabel(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Start positions every existing file at its end and begins watching.
// Parent directories are watched so that files created or rotated later
// are picked up. Missing files are logged and skipped.
func (s *FileSource) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := make(map[string]struct{})
	s.mu.Lock()
	for _, f := range s.files {
		info, err := os.Stat(f.path)
		if err != nil {
			s.logger.Warn("log file not found, waiting for it", zap.String("path", f.path))
		} else {
			f.info = info
			f.offset = info.Size()
		}
		dirs[filepath.Dir(f.path)] = struct{}{}
	}
	s.mu.Unlock()

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn("failed to watch log directory",
				zap.String("dir", dir),
				zap.Error(err))
		}
	}

	s.watcher = watcher
	go s.watch(ctx)
	return nil
}

func (s *FileSource) watch(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (s *FileSource) handle(event fsnotify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[filepath.Clean(event.Name)]
	if !ok {
		return
	}

	// Removal and rename are picked up by the identity check once the
	// replacement file is written.
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		s.readLocked(f)
	}
}

// readLocked appends complete lines written since the last read.
func (s *FileSource) readLocked(f *tailedFile) {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	if f.info != nil && !os.SameFile(f.info, info) {
		s.logger.Info("log file replaced, reading from start", zap.String("path", f.path))
		f.offset = 0
		f.partial = nil
	}
	f.info = info
	if info.Size() < f.offset {
		s.logger.Info("log file truncated, reading from start", zap.String("path", f.path))
		f.offset = 0
		f.partial = nil
	}
	if info.Size() == f.offset {
		return
	}

	fh, err := os.Open(f.path)
	if err != nil {
		s.logger.Warn("failed to open log file", zap.String("path", f.path), zap.Error(err))
		return
	}
	defer fh.Close()

	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		s.logger.Warn("failed to seek log file", zap.String("path", f.path), zap.Error(err))
		return
	}
	data, err := io.ReadAll(fh)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("failed to read log file", zap.String("path", f.path), zap.Error(err))
	}
	f.offset += int64(len(data))

	data = append(f.partial, data...)
	last := bytes.LastIndexByte(data, '\n')
	if last < 0 {
		f.partial = data
		return
	}
	f.partial = append([]byte(nil), data[last+1:]...)

	for _, line := range bytes.Split(data[:last], []byte("\n")) {
		text := strings.TrimRight(string(line), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		s.pushLocked(f.label + ": " + text)
	}
}

func (s *FileSource) pushLocked(line string) {
	if len(s.buffer) >= s.capacity {
		s.buffer = s.buffer[1:]
		s.dropped++
	}
	s.buffer = append(s.buffer, line)
}

// Since drains the lines buffered since the previous call. Files are swept
// first so that a poll does not depend on event delivery timing.
func (s *FileSource) Since(ctx context.Context, _ time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		s.readLocked(f)
	}

	if s.dropped > 0 {
		s.logger.Warn("file source buffer overflowed, oldest lines dropped",
			zap.Int("dropped", s.dropped))
		s.dropped = 0
	}

	out := s.buffer
	s.buffer = nil
	return out, nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	return err
}

// Ensure FileSource implements domain.LogSource.
var _ domain.LogSource = (*FileSource)(nil)
