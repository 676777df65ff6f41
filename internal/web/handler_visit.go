package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwisurya/fieldvisit/internal/capture"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

type checkInRequest struct {
	OutletID int64 `json:"outlet_id" validate:"required,gt=0"`
}

type checkOutRequest struct {
	VisitID  int64 `json:"visit_id" validate:"required,gt=0"`
	OutletID int64 `json:"outlet_id" validate:"required,gt=0"`
}

type setFieldsRequest struct {
	Notes       string `json:"notes" validate:"required"`
	Transaction *bool  `json:"transaction" validate:"required"`
}

// sessionView is the wire shape of a session: current state plus the blocked
// or failed reason when one exists.
type sessionView struct {
	ID             string  `json:"id"`
	Mode           string  `json:"mode"`
	State          string  `json:"state"`
	Error          string  `json:"error,omitempty"`
	DistanceMeters float64 `json:"distance_meters,omitempty"`
	AuditNote      string  `json:"audit_note,omitempty"`
}

func viewOf(s *capture.Session) sessionView {
	v := sessionView{
		ID:    s.ID(),
		Mode:  string(s.Mode()),
		State: string(s.State()),
	}
	if err := s.Err(); err != nil {
		v.Error = err.Error()
	}
	if d, ok := s.Distance(); ok {
		v.DistanceMeters = d
	}
	v.AuditNote = s.AuditNote()
	return v
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.pipeline.StartCheckIn(r.Context(), req.OutletID)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.sessions.add(sess)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req checkOutRequest
	if err := bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.pipeline.StartCheckOut(r.Context(), req.VisitID, req.OutletID)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	s.sessions.add(sess)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) writeStartError(w http.ResponseWriter, err error) {
	if errors.Is(err, capture.ErrSessionActive) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("failed to start session", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to start session")
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *capture.Session {
	sess := s.sessions.get(chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	sess.Cancel()
	s.sessions.remove(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.Capture(r.Context()); err != nil {
		s.writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	var req setFieldsRequest
	if err := bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.SetFields(req.Notes, *req.Transaction); err != nil {
		s.writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := sess.Submit(r.Context()); err != nil {
		s.writeSessionError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

// writeSessionError maps a pipeline error onto an HTTP status. The session
// view rides along so the client sees the resulting state without a second
// round trip.
func (s *Server) writeSessionError(w http.ResponseWriter, sess *capture.Session, err error) {
	status := http.StatusInternalServerError

	var rejected *domain.SubmissionRejectedError
	switch {
	case errors.Is(err, capture.ErrInvalidState), errors.Is(err, capture.ErrCaptureInFlight):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrValidationIncomplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDeviceUnavailable), errors.Is(err, domain.ErrLocationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSubmissionNetwork), errors.As(err, &rejected):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrCompositingFailed):
		status = http.StatusInternalServerError
	}

	view := viewOf(sess)
	view.Error = err.Error()
	writeJSON(w, status, view)
}

// handleSessionEvents streams state transitions as server-sent events. The
// stream closes after a terminal transition or when the client goes away.
// The session's event channel is single-consumer, so a session supports one
// SSE client at a time; a second client steals transitions from the first
// and both should resynchronize from GET /api/sessions/{id}.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case tr := <-sess.Events():
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(tr); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if tr.To.Terminal() {
				if _, err := w.Write([]byte("event: done\ndata: {}\n\n")); err != nil {
					s.logger.Error("failed to write done event", "session_id", sess.ID(), "error", err)
				}
				if canFlush {
					flusher.Flush()
				}
				return
			}
		}
	}
}
