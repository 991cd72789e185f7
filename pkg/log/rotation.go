package log

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig sizes the host log file rotation.
type RotationConfig struct {
	// Filename is the live log file path.
	Filename string

	// MaxSize is the rotation threshold in megabytes. Default 10.
	MaxSize int

	// MaxBackups bounds the retained rotated files. Default 5.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFileWriter is an io.Writer that rotates the file when a write
// would push it past the size threshold. Rotated files keep the base
// name with a timestamp inserted before the extension, so their names
// sort in rotation order.
type RotatingFileWriter struct {
	cfg     RotationConfig
	maxSize int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingFileWriter opens (or creates) the log file and its parent
// directory.
func NewRotatingFileWriter(cfg RotationConfig) (*RotatingFileWriter, error) {
	if cfg.Filename == "" {
		return nil, fmt.Errorf("log: rotation needs a filename")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	w := &RotatingFileWriter{cfg: cfg, maxSize: int64(cfg.MaxSize) << 20}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0755); err != nil {
		return fmt.Errorf("log: create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("log: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("log: stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends to the live file, rotating first if the write would
// cross the threshold.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the live file.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate renames the live file aside and reopens a fresh one. Caller
// holds the mutex.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("log: close before rotate: %w", err)
	}
	rotated := w.backupName(time.Now())
	if err := os.Rename(w.cfg.Filename, rotated); err != nil {
		w.open()
		return fmt.Errorf("log: rotate: %w", err)
	}
	// Compression can take a moment on a big file; logging must not
	// stall behind it.
	if w.cfg.Compress {
		go gzipFile(rotated)
	}
	w.pruneBackups()
	return w.open()
}

// backupName inserts a sortable timestamp before the extension:
// robot.log becomes robot.20260823-142501.log.
func (w *RotatingFileWriter) backupName(now time.Time) string {
	ext := filepath.Ext(w.cfg.Filename)
	base := strings.TrimSuffix(w.cfg.Filename, ext)
	return fmt.Sprintf("%s.%s%s", base, now.Format("20060102-150405"), ext)
}

// pruneBackups deletes the oldest rotated files beyond MaxBackups. The
// timestamp in the name sorts chronologically, so name order is age
// order and no stat calls are needed.
func (w *RotatingFileWriter) pruneBackups() {
	backups := w.listBackups()
	for len(backups) > w.cfg.MaxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

func (w *RotatingFileWriter) listBackups() []string {
	dir := filepath.Dir(w.cfg.Filename)
	live := filepath.Base(w.cfg.Filename)
	ext := filepath.Ext(live)
	prefix := strings.TrimSuffix(live, ext) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if name == live || !strings.HasPrefix(name, prefix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".gz"), ext)
		if isTimestamp(stamp) {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	sort.Strings(backups)
	return backups
}

// isTimestamp matches the YYYYMMDD-HHMMSS backup stamp.
func isTimestamp(s string) bool {
	if len(s) != 15 || s[8] != '-' {
		return false
	}
	for i, c := range []byte(s) {
		if i == 8 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func gzipFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()
	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return
	}
	gz.Close()
	dst.Close()
	os.Remove(path)
}

// MultiWriter fans writes out to several writers, e.g. stderr plus the
// rotating file.
type MultiWriter struct {
	writers []io.Writer
}

// NewMultiWriter returns a writer duplicating writes to every target.
func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (mw *MultiWriter) Write(p []byte) (int, error) {
	for _, w := range mw.writers {
		if n, err := w.Write(p); err != nil {
			return n, err
		}
	}
	return len(p), nil
}
