package tailsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Follower reads an NDJSON envelope log, one envelope per line. It remembers
// its offset so later reads only return appended lines.
type Follower struct {
	path         string
	offset       int64
	partial      []byte
	logger       *zap.Logger
	pollInterval time.Duration
}

type FollowerOptions struct {
	Logger *zap.Logger
	// PollInterval is a fallback for filesystems that drop change events.
	PollInterval time.Duration
}

func NewFollower(path string, opts FollowerOptions) *Follower {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Follower{
		path:         filepath.Clean(path),
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
	}
}

// Drain returns every complete line appended since the last call. Lines that
// are blank or not valid envelopes are skipped. A trailing line without a
// newline is held back until it is completed.
func (f *Follower) Drain() ([]json.RawMessage, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < f.offset {
		f.logger.Info("envelope log truncated, rereading", zap.String("path", f.path))
		f.offset = 0
		f.partial = nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	f.partial = nil
	var out []json.RawMessage
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:idx])
		buf = buf[idx+1:]
		if env, ok := f.parseLine(line); ok {
			out = append(out, env)
		}
	}
	if len(buf) > 0 {
		f.partial = append([]byte(nil), buf...)
	}
	return out, nil
}

func (f *Follower) parseLine(line []byte) (json.RawMessage, bool) {
	if len(line) == 0 {
		return nil, false
	}
	if _, err := timeline.DecodeEnvelope(line); err != nil {
		f.logger.Warn("skipping invalid envelope line", zap.String("path", f.path), zap.Error(err))
		return nil, false
	}
	return append(json.RawMessage(nil), line...), true
}

// Follow calls fn with each batch of appended lines until ctx ends or fn
// fails. The containing directory is watched so the log may be created or
// replaced after Follow starts.
func (f *Follower) Follow(ctx context.Context, fn func([]json.RawMessage) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return err
	}

	deliver := func() error {
		batch, err := f.Drain()
		if err != nil || len(batch) == 0 {
			return err
		}
		return fn(batch)
	}
	if err := deliver(); err != nil {
		return err
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				f.offset = 0
				f.partial = nil
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if err := deliver(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("envelope log watch error", zap.String("path", f.path), zap.Error(err))
		case <-ticker.C:
			if err := deliver(); err != nil {
				return err
			}
		}
	}
}
