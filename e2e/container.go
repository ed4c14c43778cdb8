package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const headlessImage = "chromedp/headless-shell:latest"

// TestContainer runs a headless Chromium with DevTools exposed on a
// dynamically allocated host port, so tests can run in parallel.
type TestContainer struct {
	Name    string
	Image   string
	CDPPort int // dynamically allocated host port -> container 9222
	ctr     testcontainers.Container
}

// NewTestContainer creates a new test container placeholder.
// The actual container is started when Start() is called.
func NewTestContainer(tb testing.TB, image string) *TestContainer {
	tb.Helper()
	return &TestContainer{
		Image: image,
	}
}

// Start starts the container using testcontainers-go.
func (c *TestContainer) Start(ctx context.Context) error {
	opts := []testcontainers.ContainerCustomizer{
		testcontainers.WithImage(c.Image),
		testcontainers.WithExposedPorts("9222/tcp"),
		testcontainers.WithTmpfs(map[string]string{"/dev/shm": "size=1g,mode=1777"}),
		testcontainers.WithHostConfigModifier(func(hc *container.HostConfig) {
			hc.Privileged = true
		}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/json/version").
				WithPort(nat.Port("9222/tcp")).
				WithStartupTimeout(2 * time.Minute),
		),
	}

	ctr, err := testcontainers.Run(ctx, c.Image, opts...)
	if err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	c.ctr = ctr

	inspect, err := ctr.Inspect(ctx)
	if err == nil {
		c.Name = inspect.Name
	}

	cdpPort, err := ctr.MappedPort(ctx, "9222/tcp")
	if err != nil {
		return fmt.Errorf("failed to get CDP port: %w", err)
	}
	c.CDPPort = cdpPort.Int()
	return nil
}

// Stop stops and removes the container.
func (c *TestContainer) Stop(ctx context.Context) error {
	if c.ctr == nil {
		return nil
	}
	return testcontainers.TerminateContainer(c.ctr)
}

// CDPAddr returns the TCP address of the container's DevTools endpoint.
func (c *TestContainer) CDPAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.CDPPort)
}

// BrowserURL rewrites a DevTools websocket URL reported from inside the
// container so it points at the mapped host port.
func (c *TestContainer) BrowserURL(reported string) (string, error) {
	u, err := url.Parse(reported)
	if err != nil {
		return "", err
	}
	u.Host = c.CDPAddr()
	return u.String(), nil
}

// NewTab opens a page target on pageURL and returns its target id.
func (c *TestContainer) NewTab(ctx context.Context, pageURL string) (string, error) {
	endpoint := fmt.Sprintf("http://%s/json/new?%s", c.CDPAddr(), url.QueryEscape(pageURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from /json/new", resp.StatusCode)
	}
	var target struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return "", err
	}
	return target.ID, nil
}
