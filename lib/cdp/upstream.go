package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
)

const defaultPollInterval = 2 * time.Second

// Upstream discovers the browser-level DevTools websocket URL by polling
// the browser's /json/version endpoint, and reports when it changes (for
// example after Chromium restarts).
type Upstream struct {
	versionURL string
	client     *http.Client
	interval   time.Duration
	logger     *slog.Logger

	currentURL atomic.Value // string

	startOnce  sync.Once
	stopOnce   sync.Once
	cancelPoll context.CancelFunc

	subsMu sync.RWMutex
	subs   map[chan string]struct{}
}

// NewUpstream polls httpAddr, a host:port or http URL of the DevTools HTTP
// endpoint.
func NewUpstream(httpAddr string, logger *slog.Logger) *Upstream {
	base := httpAddr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u := &Upstream{
		versionURL: strings.TrimSuffix(base, "/") + "/json/version",
		client:     &http.Client{Timeout: 5 * time.Second},
		interval:   defaultPollInterval,
		logger:     logger,
	}
	u.currentURL.Store("")
	return u
}

// Start polls in the background until ctx is done or Stop is called.
func (u *Upstream) Start(ctx context.Context) {
	u.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		u.cancelPoll = cancel
		go u.pollLoop(ctx)
	})
}

func (u *Upstream) Stop() {
	u.stopOnce.Do(func() {
		if u.cancelPoll != nil {
			u.cancelPoll()
		}
	})
}

// Resolve fetches the websocket URL, retrying while the browser comes up.
func (u *Upstream) Resolve(ctx context.Context) (string, error) {
	var wsURL string
	err := retry.New(
		retry.Attempts(20),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		found, err := u.fetch(ctx)
		if err != nil {
			return err
		}
		wsURL = found
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("devtools upstream not found: %w", err)
	}
	u.setCurrent(wsURL)
	return wsURL, nil
}

// Current returns the last discovered websocket URL, or "".
func (u *Upstream) Current() string {
	val, _ := u.currentURL.Load().(string)
	return val
}

// Subscribe returns a channel that receives new upstream URLs. Only the
// latest URL is kept for a slow subscriber.
func (u *Upstream) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)
	u.subsMu.Lock()
	if u.subs == nil {
		u.subs = make(map[chan string]struct{})
	}
	u.subs[ch] = struct{}{}
	u.subsMu.Unlock()
	cancel := func() {
		u.subsMu.Lock()
		if _, ok := u.subs[ch]; ok {
			delete(u.subs, ch)
			close(ch)
		}
		u.subsMu.Unlock()
	}
	return ch, cancel
}

func (u *Upstream) setCurrent(url string) {
	prev := u.Current()
	if url == "" || url == prev {
		return
	}
	u.logger.Info("devtools upstream updated", slog.String("url", url))
	u.currentURL.Store(url)
	u.subsMu.RLock()
	defer u.subsMu.RUnlock()
	for ch := range u.subs {
		select {
		case ch <- url:
		default:
			// replace the stale value
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- url:
			default:
			}
		}
	}
}

func (u *Upstream) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		if url, err := u.fetch(ctx); err == nil {
			u.setCurrent(url)
		} else if ctx.Err() == nil {
			u.logger.Debug("devtools upstream not reachable", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (u *Upstream) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u.versionURL)
	}
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl at %s", u.versionURL)
	}
	return version.WebSocketDebuggerURL, nil
}
