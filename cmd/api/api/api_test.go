package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/coordinator"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/logger"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/registry"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/urlpolicy"
)

type fakeClient struct {
	mu      sync.Mutex
	groups  map[string]scrollsync.SyncGroup
	started []bus.StartRequest
	stopped []bus.StopRequest
	cleared []scrollsync.TabID
	down    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{groups: map[string]scrollsync.SyncGroup{
		"g1": {ID: "g1", MemberTabIDs: []scrollsync.TabID{"A", "B"}, Mode: scrollsync.ModeRatio, IsActive: true},
		"g0": {ID: "g0", MemberTabIDs: []scrollsync.TabID{"C", "D"}, Mode: scrollsync.ModeRatio},
	}}
}

func (f *fakeClient) group(id string) (scrollsync.SyncGroup, error) {
	g, ok := f.groups[id]
	if !ok {
		return g, fmt.Errorf("%w: %s", registry.ErrGroupNotFound, id)
	}
	return g, nil
}

func (f *fakeClient) Start(_ context.Context, req bus.StartRequest) (bus.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	if len(req.TabIDs) < scrollsync.MinGroupSize {
		return bus.StartResponse{Error: registry.ErrTooFewTabs.Error(), Notice: notice.Error("Select at least 2 tabs")}, nil
	}
	return bus.StartResponse{Success: true, GroupID: "g2", ConnectedTabs: req.TabIDs}, nil
}

func (f *fakeClient) Stop(_ context.Context, req bus.StopRequest) (bus.StopResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, req)
	return bus.StopResponse{Success: true, Notice: notice.Info("Sync stopped")}, nil
}

func (f *fakeClient) Status(context.Context) (bus.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return bus.StatusResponse{}, fmt.Errorf("%w: coordinator", bus.ErrUnreachable)
	}
	return bus.StatusResponse{IsActive: true, GroupID: "g1"}, nil
}

func (f *fakeClient) Resync(_ context.Context, groupID string) (bus.StartResponse, error) {
	if _, err := f.group(groupID); err != nil {
		return bus.StartResponse{}, err
	}
	return bus.StartResponse{Success: true, GroupID: "g3"}, nil
}

func (f *fakeClient) SetMode(_ context.Context, groupID string, mode scrollsync.Mode) (scrollsync.SyncGroup, error) {
	g, err := f.group(groupID)
	if err != nil {
		return g, err
	}
	if !mode.Valid() {
		return g, fmt.Errorf("%w: %q", registry.ErrInvalidMode, mode)
	}
	g.Mode = mode
	return g, nil
}

func (f *fakeClient) SetURLSync(_ context.Context, groupID string, enabled bool) ([]scrollsync.SyncGroup, error) {
	g, err := f.group(groupID)
	if err != nil {
		return nil, err
	}
	g.URLSyncEnabled = enabled
	return []scrollsync.SyncGroup{g}, nil
}

func (f *fakeClient) AddTab(_ context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	g, err := f.group(groupID)
	if err != nil {
		return g, err
	}
	if !g.IsActive {
		return g, fmt.Errorf("%w: %s", registry.ErrGroupInactive, groupID)
	}
	if tab == "restricted" {
		return g, fmt.Errorf("%w: chrome pages", coordinator.ErrTabNotConnected)
	}
	g.MemberTabIDs = append(g.MemberTabIDs, tab)
	return g, nil
}

func (f *fakeClient) RemoveTab(_ context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	g, err := f.group(groupID)
	if err != nil {
		return g, err
	}
	g.MemberTabIDs = []scrollsync.TabID{"A"}
	g.IsActive = false
	return g, nil
}

func (f *fakeClient) Offset(_ context.Context, tab scrollsync.TabID) (scrollsync.ManualOffset, error) {
	return scrollsync.ManualOffset{TabID: tab, OffsetRatio: 0.1}, nil
}

func (f *fakeClient) ClearOffset(_ context.Context, tab scrollsync.TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, tab)
	return nil
}

type fakeTabs struct {
	mu        sync.Mutex
	activated []scrollsync.TabID
}

func (f *fakeTabs) List(context.Context) ([]cdp.Tab, error) {
	return []cdp.Tab{
		{ID: "A", URL: "https://example.com/a", Title: "A"},
		{ID: "S", URL: "chrome://settings", Title: "Settings"},
	}, nil
}

func (f *fakeTabs) Activate(_ context.Context, id scrollsync.TabID) error {
	if id == "missing" {
		return fmt.Errorf("activate %s: %w", id, cdp.ErrTabNotFound)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeClient, *fakeTabs) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, tabs := newFakeClient(), &fakeTabs{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.AddToContext(r.Context(), log)))
		})
	})
	New(client, tabs, urlpolicy.New(log)).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, client, tabs
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestSyncEndpoints(t *testing.T) {
	t.Parallel()
	srv, client, _ := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "start",
			method:     http.MethodPost,
			path:       "/sync/start",
			body:       `{"tabIds":["A","B"],"mode":"element"}`,
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, "g2", body["groupId"])
			},
		},
		{
			name:       "start with one tab",
			method:     http.MethodPost,
			path:       "/sync/start",
			body:       `{"tabIds":["A"]}`,
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["notice"])
			},
		},
		{
			name:       "start with unknown field",
			method:     http.MethodPost,
			path:       "/sync/start",
			body:       `{"tabs":["A","B"]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "stop without body",
			method:     http.MethodPost,
			path:       "/sync/stop",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["success"])
			},
		},
		{
			name:       "status",
			method:     http.MethodGet,
			path:       "/sync/status",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "g1", body["groupId"])
			},
		},
		{
			name:       "resync",
			method:     http.MethodPost,
			path:       "/sync/resync",
			body:       `{"groupId":"g0"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "resync unknown group",
			method:     http.MethodPost,
			path:       "/sync/resync",
			body:       `{"groupId":"nope"}`,
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["message"], "not found")
			},
		},
		{
			name:       "resync without group",
			method:     http.MethodPost,
			path:       "/sync/resync",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "set mode",
			method:     http.MethodPatch,
			path:       "/sync/groups/g1/mode",
			body:       `{"mode":"element"}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "element", body["mode"])
			},
		},
		{
			name:       "set invalid mode",
			method:     http.MethodPatch,
			path:       "/sync/groups/g1/mode",
			body:       `{"mode":"diagonal"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "url sync",
			method:     http.MethodPatch,
			path:       "/sync/groups/g1/url-sync",
			body:       `{"enabled":true}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["urlSyncEnabled"])
			},
		},
		{
			name:       "url sync without flag",
			method:     http.MethodPatch,
			path:       "/sync/groups/g1/url-sync",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "add tab",
			method:     http.MethodPost,
			path:       "/sync/groups/g1/tabs",
			body:       `{"tabId":"C"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "add tab to stopped group",
			method:     http.MethodPost,
			path:       "/sync/groups/g0/tabs",
			body:       `{"tabId":"E"}`,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "add tab that cannot connect",
			method:     http.MethodPost,
			path:       "/sync/groups/g1/tabs",
			body:       `{"tabId":"restricted"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "remove tab",
			method:     http.MethodDelete,
			path:       "/sync/groups/g1/tabs/B",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["isActive"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.started)
	assert.Equal(t, scrollsync.ModeElement, client.started[0].Mode)
	require.Len(t, client.stopped, 1)
	assert.Empty(t, client.stopped[0].TabIDs)
}

func TestTabEndpoints(t *testing.T) {
	t.Parallel()
	srv, client, tabs := newTestServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/tabs", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []tabView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Restricted)
	assert.NotEmpty(t, list[1].Restricted)

	status, _ := do(t, srv, http.MethodPost, "/tabs/A/activate", "")
	assert.Equal(t, http.StatusNoContent, status)
	tabs.mu.Lock()
	assert.Equal(t, []scrollsync.TabID{"A"}, tabs.activated)
	tabs.mu.Unlock()
	status, _ = do(t, srv, http.MethodPost, "/tabs/missing/activate", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := do(t, srv, http.MethodGet, "/offsets/A", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0.1, body["offsetRatio"])

	status, _ = do(t, srv, http.MethodDelete, "/offsets/A", "")
	assert.Equal(t, http.StatusNoContent, status)
	client.mu.Lock()
	assert.Equal(t, []scrollsync.TabID{"A"}, client.cleared)
	client.mu.Unlock()
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, client, _ := newTestServer(t)

	status, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	client.mu.Lock()
	client.down = true
	client.mu.Unlock()
	status, _ = do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: g", registry.ErrGroupNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: g", registry.ErrGroupActive), http.StatusConflict},
		{fmt.Errorf("%w: tab:A", bus.ErrUnreachable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
