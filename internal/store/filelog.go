package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidewatch/tidewatch/internal/model"
)

// FileLog is the durable ReadingLog reference implementation: one JSONL file
// per station under the data directory, appended with O_APPEND and fsynced so
// an Append that returned nil survives a crash.
//
// Station IDs become file names directly; they are validated against path
// separators at open time.
type FileLog struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFileLog creates the data directory if needed and returns a FileLog.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &FileLog{dir: dir, files: make(map[string]*os.File)}, nil
}

// Close releases all open station files.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for id, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, id)
	}
	return firstErr
}

func (l *FileLog) Append(_ context.Context, r *model.Reading) error {
	f, err := l.file(r.StationID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode reading: %w", err)
	}
	line = append(line, '\n')

	// Appends for one station are serialized by the Writer's keyed lock, so
	// writing without holding l.mu is safe.
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("store: append %s: %w", r.StationID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("store: fsync %s: %w", r.StationID, err)
	}
	return nil
}

func (l *FileLog) ReadRange(_ context.Context, stationID string, from, to time.Time) ([]*model.Reading, error) {
	path, err := l.path(stationID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", stationID, err)
	}
	defer f.Close()

	var out []*model.Reading
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r model.Reading
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("store: corrupt log line for %s: %w", stationID, err)
		}
		if !r.Timestamp.Before(from) && !r.Timestamp.After(to) {
			rc := r
			out = append(out, &rc)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", stationID, err)
	}
	return out, nil
}

func (l *FileLog) Latest(_ context.Context, stationID string) (*model.Reading, error) {
	path, err := l.path(stationID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", stationID, err)
	}
	defer f.Close()

	// The log is append-only and timestamp-ordered, so the last line wins.
	var last []byte
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		last = append(last[:0], sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", stationID, err)
	}
	if len(last) == 0 {
		return nil, nil
	}

	var r model.Reading
	if err := json.Unmarshal(last, &r); err != nil {
		return nil, fmt.Errorf("store: corrupt log tail for %s: %w", stationID, err)
	}
	return &r, nil
}

func (l *FileLog) file(stationID string) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[stationID]; ok {
		return f, nil
	}
	path, err := l.path(stationID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s for append: %w", stationID, err)
	}
	l.files[stationID] = f
	return f, nil
}

func (l *FileLog) path(stationID string) (string, error) {
	if stationID == "" || stationID != filepath.Base(stationID) {
		return "", fmt.Errorf("store: invalid station id %q", stationID)
	}
	return filepath.Join(l.dir, stationID+".log"), nil
}
