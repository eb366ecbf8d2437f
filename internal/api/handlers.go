package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/events"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SessionActive: s.sessionActive(),
	}
	if s.registry != nil {
		resp.Extensions = len(s.registry.Extensions())
		resp.QueryHandlers = len(s.registry.QueryHandlers())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleQuery handles POST /query. It opens a session if none is open and
// supersedes the current query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.beginSession()
	e := s.session.StartQuery(req.Input)

	if req.Wait {
		s.wait(r.Context(), e)
	}

	respondJSON(w, http.StatusAccepted, QueryResponse{
		ExecutionID: e.ID(),
		Input:       e.Input(),
		State:       e.State().String(),
	})
}

// handleEndSession handles DELETE /session.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	open, err := s.endSession(r.Context())
	if err != nil {
		s.logger.Error("session teardown failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "session teardown failed")
		return
	}
	if !open {
		s.writeError(w, http.StatusNotFound, "no open session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResults handles GET /results?offset=&limit=&wait=.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current(w)
	if !ok {
		return
	}
	rq, err := parseResultsQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		s.wait(r.Context(), e)
	}
	respondJSON(w, http.StatusOK, results(e, rq))
}

// handleFetchMore handles POST /results/more.
func (s *Server) handleFetchMore(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current(w)
	if !ok {
		return
	}
	if !e.CanFetchMore() {
		s.writeError(w, http.StatusConflict, "no more results to fetch")
		return
	}
	e.FetchMore()
	respondJSON(w, http.StatusOK, results(e, resultsQuery{}))
}

// handleActivate handles POST /results/{row}/activate?action=N. A
// successful activation ends the session.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current(w)
	if !ok {
		return
	}
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row < 0 {
		s.writeError(w, http.StatusBadRequest, "row must be a non-negative integer")
		return
	}
	action := 0
	if v := r.URL.Query().Get("action"); v != "" {
		if action, err = strconv.Atoi(v); err != nil || action < 0 {
			s.writeError(w, http.StatusBadRequest, "action must be a non-negative integer")
			return
		}
	}

	if _, err := e.Row(row); err != nil {
		s.writeError(w, http.StatusNotFound, "row not found")
		return
	}
	s.finishActivation(w, r, e, e.Activate(row, action))
}

// handleActivateFallback handles POST /fallback/activate.
func (s *Server) handleActivateFallback(w http.ResponseWriter, r *http.Request) {
	e, ok := s.current(w)
	if !ok {
		return
	}
	s.finishActivation(w, r, e, e.ActivateFallback())
}

func (s *Server) finishActivation(w http.ResponseWriter, r *http.Request, e *engine.Execution, activated bool) {
	if !activated {
		s.writeError(w, http.StatusUnprocessableEntity, "nothing to activate")
		return
	}
	s.events.Publish(events.Activation{
		ExecutionID: e.ID(),
		ItemID:      e.Stats().ActivatedItem,
	})
	if _, err := s.endSession(r.Context()); err != nil {
		s.logger.Warn("session teardown after activation failed", "error", err)
	}
	respondJSON(w, http.StatusOK, ActivateResponse{ExecutionID: e.ID(), Activated: true})
}

// handlePlugins handles GET /plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	resp := PluginsResponse{Plugins: []extension.PluginInfo{}}
	for _, p := range s.registry.PluginProviders() {
		resp.Plugins = append(resp.Plugins, p.Describe()...)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSetEnabled handles POST /plugins/{id}/enable and /disable.
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		for _, p := range s.registry.PluginProviders() {
			err := p.SetEnabled(id, enabled)
			if errors.Is(err, plugin.ErrPluginNotFound) {
				continue
			}
			if err != nil {
				s.writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			for _, info := range p.Describe() {
				if info.ID == id {
					respondJSON(w, http.StatusOK, info)
					return
				}
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeError(w, http.StatusNotFound, "plugin not found")
	}
}

// handleIncrementalSort handles PUT /settings/incremental-sort.
func (s *Server) handleIncrementalSort(w http.ResponseWriter, r *http.Request) {
	var req SortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.session.SetIncrementalSort(req.Enabled)
	if s.sort != nil {
		if err := s.sort.SetIncrementalSort(req.Enabled); err != nil {
			s.logger.Error("failed to persist incremental sort", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to persist setting")
			return
		}
	}
	respondJSON(w, http.StatusOK, SortRequest{Enabled: s.session.IncrementalSort()})
}

func (s *Server) current(w http.ResponseWriter) (*engine.Execution, bool) {
	e := s.session.Current()
	if e == nil {
		s.writeError(w, http.StatusNotFound, "no current query")
		return nil, false
	}
	return e, true
}

func (s *Server) wait(ctx context.Context, e *engine.Execution) {
	ctx, cancel := context.WithTimeout(ctx, s.config.WaitTimeout)
	defer cancel()
	select {
	case <-e.Done():
	case <-ctx.Done():
	}
}

func results(e *engine.Execution, rq resultsQuery) ResultsResponse {
	rows := e.Rows()
	total := len(rows)
	start := min(rq.offset, total)
	end := total
	if rq.limit > 0 {
		end = min(start+rq.limit, total)
	}
	resp := ResultsResponse{
		ExecutionID:  e.ID(),
		Input:        e.Input(),
		State:        e.State().String(),
		RowCount:     total,
		CanFetchMore: e.CanFetchMore(),
		Rows:         rows[start:end],
	}
	if resp.Rows == nil {
		resp.Rows = []query.Row{}
	}
	if len(e.Fallbacks()) > 0 && strings.TrimSpace(e.Input()) != "" {
		resp.FallbackLabel = e.FallbackLabel()
	}
	return resp
}

func parseResultsQuery(r *http.Request) (resultsQuery, error) {
	var rq resultsQuery
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rq, errors.New("offset must be a non-negative integer")
		}
		rq.offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return rq, errors.New("limit must be a non-negative integer")
		}
		rq.limit = n
	}
	return rq, nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
