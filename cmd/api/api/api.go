package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// Client is the coordinator surface the API needs; *coordinator.Client
// implements it.
type Client interface {
	Start(ctx context.Context, req bus.StartRequest) (bus.StartResponse, error)
	Stop(ctx context.Context, req bus.StopRequest) (bus.StopResponse, error)
	Status(ctx context.Context) (bus.StatusResponse, error)
	Resync(ctx context.Context, groupID string) (bus.StartResponse, error)
	SetMode(ctx context.Context, groupID string, mode scrollsync.Mode) (scrollsync.SyncGroup, error)
	SetURLSync(ctx context.Context, groupID string, enabled bool) ([]scrollsync.SyncGroup, error)
	AddTab(ctx context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error)
	RemoveTab(ctx context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error)
	Offset(ctx context.Context, tab scrollsync.TabID) (scrollsync.ManualOffset, error)
	ClearOffset(ctx context.Context, tab scrollsync.TabID) error
}

// Tabs is the browser tab registry; *cdp.Browser implements it.
type Tabs interface {
	List(ctx context.Context) ([]cdp.Tab, error)
	Activate(ctx context.Context, id scrollsync.TabID) error
}

type ApiService struct {
	client Client
	tabs   Tabs
	policy cdp.URLPolicy
}

func New(client Client, tabs Tabs, policy cdp.URLPolicy) *ApiService {
	return &ApiService{client: client, tabs: tabs, policy: policy}
}

// Routes mounts every endpoint on r.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/healthz", s.Health)

	r.Route("/sync", func(r chi.Router) {
		r.Post("/start", s.StartSync)
		r.Post("/stop", s.StopSync)
		r.Get("/status", s.GetStatus)
		r.Post("/resync", s.Resync)
		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Patch("/mode", s.SetMode)
			r.Patch("/url-sync", s.SetURLSync)
			r.Post("/tabs", s.AddTab)
			r.Delete("/tabs/{tabID}", s.RemoveTab)
		})
	})

	r.Get("/tabs", s.ListTabs)
	r.Post("/tabs/{tabID}/activate", s.ActivateTab)

	r.Get("/offsets/{tabID}", s.GetOffset)
	r.Delete("/offsets/{tabID}", s.ClearOffset)
}

// Health reports whether the coordinator answers.
// (GET /healthz)
func (s *ApiService) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.client.Status(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "coordinator unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
