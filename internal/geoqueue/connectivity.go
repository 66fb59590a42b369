package geoqueue

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConnectivityMonitor reports whether the remote backend is reachable.
// Subscribers receive a callback per state transition; repeated identical
// signals are suppressed at the monitor.
type ConnectivityMonitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

type monitorCore struct {
	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func(online bool)
}

func newMonitorCore(online bool) *monitorCore {
	return &monitorCore{online: online, listeners: map[int]func(bool){}}
}

func (c *monitorCore) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *monitorCore) Subscribe(fn func(online bool)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// set records a transition and notifies listeners. Identical repeated
// states are no-ops.
func (c *monitorCore) set(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	listeners := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

// ManualMonitor is driven by explicit SetOnline calls: the admin toggle on
// the management API and tests.
type ManualMonitor struct {
	*monitorCore
}

func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{monitorCore: newMonitorCore(online)}
}

func (m *ManualMonitor) SetOnline(online bool) {
	m.set(online)
}

// ProbeMonitor polls a health URL and derives the up/down signal from
// whether the request succeeds with a 2xx status.
type ProbeMonitor struct {
	*monitorCore
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

func NewProbeMonitor(url string, interval time.Duration, httpClient *http.Client, logger *slog.Logger) *ProbeMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &ProbeMonitor{
		monitorCore: newMonitorCore(false),
		url:         strings.TrimSpace(url),
		interval:    interval,
		httpClient:  httpClient,
		logger:      logger,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go m.loop(ctx)
	return m
}

func (m *ProbeMonitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.set(m.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.set(m.probe(ctx))
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (m *ProbeMonitor) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done
	})
	return nil
}

// FileMonitor watches a link-state marker file. A file whose first token
// is "down" forces offline; any other content, or a missing file, reads as
// online. Lets operators flip connectivity without touching the network.
type FileMonitor struct {
	*monitorCore
	path      string
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

func NewFileMonitor(path string, logger *slog.Logger) (*FileMonitor, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	m := &FileMonitor{
		monitorCore: newMonitorCore(readLinkState(path)),
		path:        path,
		watcher:     watcher,
		logger:      logger,
		done:        make(chan struct{}),
	}
	go m.loop()
	return m, nil
}

func (m *FileMonitor) loop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			m.set(readLinkState(m.path))
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("connectivity marker watch error", "error", err)
		}
	}
}

func (m *FileMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.watcher.Close()
		<-m.done
	})
	return err
}

func readLinkState(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return true
	}
	return !strings.EqualFold(fields[0], "down")
}
