package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/8428215330a-ui/Jarvis/internal/flow"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/scheduler"
	"github.com/go-chi/chi/v5"
)

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.deps.Flows.Flows()))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flowID")
	f, ok := s.deps.Flows.Flow(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(f))
}

func (s *Server) triggerFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "flowID")
	f, err := s.deps.Flows.Trigger(id)
	switch {
	case errors.Is(err, flow.ErrFlowNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
	case errors.Is(err, flow.ErrFlowRunning):
		writeJSONResponse(w, http.StatusConflict, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusIgnored).
			WithMessage("Flow already running").
			WithResult(f).
			Build())
	case err != nil:
		slog.Error("Server.triggerFlowHandler: trigger failed", "error", err, "flow", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to trigger flow"))
	default:
		writeJSONResponse(w, http.StatusAccepted, models.Success(f))
	}
}

func (s *Server) cancelDialingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Flows.CancelDialing() {
		writeJSONResponse(w, http.StatusOK, models.Ignored("No call in progress"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.deps.Flows.Dialing()))
}

func (s *Server) agentHandler(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.deps.Flows.AgentResult()
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No agent result yet"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(agent))
}

func (s *Server) schedulesHandler(w http.ResponseWriter, r *http.Request) {
	entries := []scheduler.Entry{}
	if s.schedules != nil {
		entries = append(entries, s.schedules.Entries()...)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}
