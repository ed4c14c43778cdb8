package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

type tabView struct {
	cdp.Tab
	// Restricted is the reason the tab cannot be synced, if any.
	Restricted string `json:"restricted,omitempty"`
}

// ListTabs lists the browser's page tabs for selection.
// (GET /tabs)
func (s *ApiService) ListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.tabs.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]tabView, 0, len(tabs))
	for _, t := range tabs {
		v := tabView{Tab: t}
		if reason, ok := s.policy.Restricted(t.URL); ok {
			v.Restricted = reason
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// (POST /tabs/{tabID}/activate)
func (s *ApiService) ActivateTab(w http.ResponseWriter, r *http.Request) {
	if err := s.tabs.Activate(r.Context(), scrollsync.TabID(chi.URLParam(r, "tabID"))); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (GET /offsets/{tabID})
func (s *ApiService) GetOffset(w http.ResponseWriter, r *http.Request) {
	off, err := s.client.Offset(r.Context(), scrollsync.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, off)
}

// ClearOffset resets the tab's manual offset.
// (DELETE /offsets/{tabID})
func (s *ApiService) ClearOffset(w http.ResponseWriter, r *http.Request) {
	if err := s.client.ClearOffset(r.Context(), scrollsync.TabID(chi.URLParam(r, "tabID"))); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
