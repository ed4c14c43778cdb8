package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/logger"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// StartSync connects the requested tabs and creates a group. A start that
// connects too few tabs answers 422 with the per-tab results.
// (POST /sync/start)
func (s *ApiService) StartSync(w http.ResponseWriter, r *http.Request) {
	var req bus.StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.client.Start(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusUnprocessableEntity
		logger.FromContext(r.Context()).Info("sync start failed", "err", res.Error)
	}
	writeJSON(w, status, res)
}

// StopSync stops the groups of the listed tabs, or every active group.
// (POST /sync/stop)
func (s *ApiService) StopSync(w http.ResponseWriter, r *http.Request) {
	var req bus.StopRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.client.Stop(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// (GET /sync/status)
func (s *ApiService) GetStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.client.Status(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resync restarts a stopped group that is still retained.
// (POST /sync/resync)
func (s *ApiService) Resync(w http.ResponseWriter, r *http.Request) {
	var req bus.ResyncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "groupId is required")
		return
	}
	res, err := s.client.Resync(r.Context(), req.GroupID)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

type modeBody struct {
	Mode scrollsync.Mode `json:"mode"`
}

// (PATCH /sync/groups/{groupID}/mode)
func (s *ApiService) SetMode(w http.ResponseWriter, r *http.Request) {
	var body modeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	g, err := s.client.SetMode(r.Context(), chi.URLParam(r, "groupID"), body.Mode)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type urlSyncBody struct {
	Enabled *bool `json:"enabled"`
}

// (PATCH /sync/groups/{groupID}/url-sync)
func (s *ApiService) SetURLSync(w http.ResponseWriter, r *http.Request) {
	var body urlSyncBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	groups, err := s.client.SetURLSync(r.Context(), chi.URLParam(r, "groupID"), *body.Enabled)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups[0])
}

type tabBody struct {
	TabID scrollsync.TabID `json:"tabId"`
}

// AddTab connects a tab and adds it to an active group.
// (POST /sync/groups/{groupID}/tabs)
func (s *ApiService) AddTab(w http.ResponseWriter, r *http.Request) {
	var body tabBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.TabID == "" {
		writeError(w, http.StatusBadRequest, "tabId is required")
		return
	}
	g, err := s.client.AddTab(r.Context(), chi.URLParam(r, "groupID"), body.TabID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// (DELETE /sync/groups/{groupID}/tabs/{tabID})
func (s *ApiService) RemoveTab(w http.ResponseWriter, r *http.Request) {
	g, err := s.client.RemoveTab(r.Context(), chi.URLParam(r, "groupID"), scrollsync.TabID(chi.URLParam(r, "tabID")))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
