package arangox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/arangox/internal/pathutil"
	"pkt.systems/arangox/internal/svcfields"
	"pkt.systems/pslog"
)

// HostAdder receives endpoints discovered by a HostWatcher. *client.Client
// satisfies it.
type HostAdder interface {
	AddHosts(endpoints ...string) (int, error)
}

// ReadHostsFile returns the endpoints listed in path. Entries are separated by
// newlines or commas; blank lines and lines starting with # are ignored.
func ReadHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hosts file %s: %w", path, err)
	}
	return out, nil
}

// HostWatcher reloads a hosts file whenever it changes and appends new
// endpoints to the target pool. Hosts removed from the file stay in the pool.
type HostWatcher struct {
	path    string
	target  HostAdder
	logger  pslog.Logger
	watcher *fsnotify.Watcher

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// WatchHosts loads path once and then watches it until ctx ends or Close is
// called. A missing file is not an error; it is picked up once created.
func WatchHosts(ctx context.Context, path string, target HostAdder, logger pslog.Logger) (*HostWatcher, error) {
	if target == nil {
		return nil, fmt.Errorf("hostwatch: target required")
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("hostwatch: path required")
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	abs, err := pathutil.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("hostwatch: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hostwatch: create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory instead of the file.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("hostwatch: watch %s: %w", filepath.Dir(abs), err)
	}
	ctx, cancel := context.WithCancel(ctx)
	hw := &HostWatcher{
		path:    abs,
		target:  target,
		logger:  svcfields.WithSubsystem(logger, "hostwatch").With("hosts_file", abs),
		watcher: watcher,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	hw.reload()
	go hw.run(ctx)
	return hw, nil
}

// Path returns the watched file.
func (hw *HostWatcher) Path() string {
	return hw.path
}

// Close stops watching and waits for the watch loop to exit.
func (hw *HostWatcher) Close() error {
	var err error
	hw.closeOnce.Do(func() {
		hw.cancel()
		err = hw.watcher.Close()
		<-hw.done
	})
	return err
}

func (hw *HostWatcher) run(ctx context.Context) {
	defer close(hw.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-hw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != hw.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				hw.logger.Trace("hostwatch.event", "op", ev.Op.String())
				hw.reload()
			}
		case err, ok := <-hw.watcher.Errors:
			if !ok {
				return
			}
			hw.logger.Warn("hostwatch.error", "error", err)
		}
	}
}

func (hw *HostWatcher) reload() {
	endpoints, err := ReadHostsFile(hw.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			hw.logger.Debug("hostwatch.missing")
			return
		}
		hw.logger.Warn("hostwatch.read_error", "error", err)
		return
	}
	if len(endpoints) == 0 {
		return
	}
	added, err := hw.target.AddHosts(endpoints...)
	if err != nil {
		hw.logger.Warn("hostwatch.add_error", "error", err, "endpoints", len(endpoints))
		return
	}
	if added > 0 {
		hw.logger.Info("hostwatch.hosts.added", "added", added)
	}
}
