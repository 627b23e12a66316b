package api

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/8428215330a-ui/Jarvis/internal/assistant"
	"github.com/8428215330a-ui/Jarvis/internal/capture"
	"github.com/8428215330a-ui/Jarvis/internal/flow"
	"github.com/8428215330a-ui/Jarvis/internal/location"
	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
	"github.com/8428215330a-ui/Jarvis/internal/voice"
)

// StatusResponse is the combined view rendered by the client.
type StatusResponse struct {
	Assistant assistant.Status    `json:"assistant"`
	Flows     []models.Flow       `json:"flows"`
	Dialing   flow.DialingState   `json:"dialing"`
	Agent     *models.AgentResult `json:"agent,omitempty"`
	Timers    []timer.Info        `json:"stage_timers,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type askRequest struct {
	Question string `json:"question"`
}

type frameRequest struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type voiceResultsRequest struct {
	Results []voice.Result `json:"results"`
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type locationErrorRequest struct {
	Message string `json:"message"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "jarvis"}))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Assistant: s.deps.Core.Status(),
		Flows:     s.deps.Flows.Flows(),
		Dialing:   s.deps.Flows.Dialing(),
	}
	if agent, ok := s.deps.Flows.AgentResult(); ok {
		resp.Agent = &agent
	}
	if s.stageTimers != nil {
		resp.Timers = s.stageTimers.ListActive()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.modeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	changed, err := s.deps.Core.SwitchMode(req.Mode)
	if errors.Is(err, models.ErrUnknownMode) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.modeHandler: mode switch failed", "error", err, "mode", req.Mode)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to switch mode"))
		return
	}
	st := s.deps.Core.Status()
	if !changed {
		writeJSONResponse(w, http.StatusOK, models.Ignored("Mode already active"))
		return
	}
	slog.Info("Server.modeHandler: mode switched", "mode", st.Mode, "epoch", st.Epoch)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"mode": st.Mode, "epoch": st.Epoch}))
}

// frameHandler accepts either a raw image body or JSON with base64 data.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxFrameBytes)
	ctype := r.Header.Get("Content-Type")

	var data []byte
	var mimeType string
	if strings.HasPrefix(ctype, "application/json") {
		var req frameRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(stripDataURL(req.Data))
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Frame data is not valid base64"))
			return
		}
		data, mimeType = decoded, req.MIMEType
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Frame too large"))
				return
			}
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read frame"))
			return
		}
		data, mimeType = body, ctype
	}
	if len(data) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Empty frame"))
		return
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if err := s.deps.Frames.Push(data, mimeType); err != nil {
		if errors.Is(err, capture.ErrNotCapturing) || errors.Is(err, capture.ErrSourceUnavailable) {
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		slog.Error("Server.frameHandler: push failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to accept frame"))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(map[string]int{"bytes": len(data)}))
}

// stripDataURL drops a "data:<mime>;base64," prefix if present.
func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	s.deps.Core.Scan()
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Scan queued", nil))
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: question"))
		return
	}
	s.deps.Core.Ask(q)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Question queued", nil))
}

func (s *Server) voiceToggleHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.deps.Core.Toggle()
	if errors.Is(err, voice.ErrUnavailable) {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(voice.MsgUnavailable))
		return
	}
	if err != nil {
		slog.Error("Server.voiceToggleHandler: toggle failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to toggle listening"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"active": active}))
}

func (s *Server) voiceResultsHandler(w http.ResponseWriter, r *http.Request) {
	var req voiceResultsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Results) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: results"))
		return
	}
	if err := s.deps.Speech.Deliver(req.Results); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
}

func (s *Server) voiceEndHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Speech.End(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, voice.ErrNoSession) {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	slog.Error("Server.writeSessionError: recognition event failed", "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process recognition event"))
}

func (s *Server) voiceAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.deps.Speech.SetAvailable(req.Available)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"available": req.Available}))
}

func (s *Server) locationHandler(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: lat, lng"))
		return
	}
	if err := s.deps.Position.Push(*req.Lat, *req.Lng); err != nil {
		if errors.Is(err, location.ErrNotWatching) {
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
}

func (s *Server) locationErrorHandler(w http.ResponseWriter, r *http.Request) {
	var req locationErrorRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}
	if err := s.deps.Position.PushError(req.Message); err != nil {
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusAccepted, models.Success(nil))
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	if since == "" {
		writeJSONResponse(w, http.StatusOK, models.Success(nonNil(s.deps.Log.Entries())))
		return
	}
	seq, err := strconv.ParseUint(since, 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid since parameter"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nonNil(s.deps.Log.Since(seq))))
}

// DefaultHistoryLimit is used when /logs/history has no limit parameter.
const DefaultHistoryLimit = 100

func (s *Server) logHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Journal not configured"))
		return
	}
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("Server.logHistoryHandler: journal read failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read journal"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nonNil(entries)))
}

func nonNil(entries []models.LogEntry) []models.LogEntry {
	if entries == nil {
		return []models.LogEntry{}
	}
	return entries
}

func (s *Server) latestSpeechHandler(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil || s.audio.LatestPath() == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No synthesized speech available"))
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.audio.LatestPath())
}
