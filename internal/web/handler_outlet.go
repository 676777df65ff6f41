package web

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dwisurya/fieldvisit/internal/compress"
	"github.com/dwisurya/fieldvisit/internal/domain"
)

const maxVideoUpload = 64 << 20

type createOutletRequest struct {
	Name         string   `json:"name" validate:"required"`
	Address      string   `json:"address"`
	Lat          *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon          *float64 `json:"lon" validate:"omitempty,longitude"`
	RadiusMeters uint32   `json:"radius_meters"`
}

type setLocationRequest struct {
	Lat          float64 `json:"lat" validate:"latitude"`
	Lon          float64 `json:"lon" validate:"longitude"`
	RadiusMeters uint32  `json:"radius_meters" validate:"required,gt=0"`
}

type outletView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Address      string   `json:"address,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
	RadiusMeters uint32   `json:"radius_meters"`
	Eligible     bool     `json:"capture_eligible"`
}

func outletViewOf(o *domain.Outlet) outletView {
	v := outletView{
		ID:           o.ID,
		Name:         o.Name,
		Address:      o.Address,
		RadiusMeters: o.RadiusMeters,
		Eligible:     o.CaptureEligible(),
	}
	if o.Location != nil {
		v.Lat = &o.Location.Lat
		v.Lon = &o.Location.Lon
	}
	return v
}

func outletID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListOutlets(w http.ResponseWriter, r *http.Request) {
	outlets, err := s.editor.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list outlets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list outlets")
		return
	}
	views := make([]outletView, 0, len(outlets))
	for _, o := range outlets {
		views = append(views, outletViewOf(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateOutlet(w http.ResponseWriter, r *http.Request) {
	var req createOutletRequest
	if err := bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Coordinates only land together; one half alone is rejected the same way
	// the store would treat it, as never set.
	if (req.Lat == nil) != (req.Lon == nil) {
		writeError(w, http.StatusBadRequest, "lat and lon must be given together")
		return
	}

	var location *domain.GeoPoint
	if req.Lat != nil {
		p, err := domain.NewGeoPoint(*req.Lat, *req.Lon)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		location = &p
	}

	outlet, err := s.editor.Create(r.Context(), req.Name, req.Address, location, req.RadiusMeters)
	if err != nil {
		s.logger.Error("failed to create outlet", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create outlet")
		return
	}
	writeJSON(w, http.StatusCreated, outletViewOf(outlet))
}

func (s *Server) handleGetOutlet(w http.ResponseWriter, r *http.Request) {
	id, err := outletID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid outlet id")
		return
	}

	outlet, err := s.outlets.GetOutlet(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get outlet", "outlet_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get outlet")
		return
	}
	if outlet == nil {
		writeError(w, http.StatusNotFound, "outlet not found")
		return
	}
	writeJSON(w, http.StatusOK, outletViewOf(outlet))
}

// handleSetOutletLocation is the remediation path for a blocked capture: the
// operator corrects coordinates or radius, the cache entry is dropped, and
// the session revalidates against the fresh record.
func (s *Server) handleSetOutletLocation(w http.ResponseWriter, r *http.Request) {
	id, err := outletID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid outlet id")
		return
	}

	var req setLocationRequest
	if err := bind(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	point, err := domain.NewGeoPoint(req.Lat, req.Lon)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.outlets.GetOutlet(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get outlet", "outlet_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get outlet")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "outlet not found")
		return
	}

	if err := s.editor.SetLocation(r.Context(), id, point, req.RadiusMeters); err != nil {
		s.logger.Error("failed to set outlet location", "outlet_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set outlet location")
		return
	}
	s.outlets.Invalidate(id)

	updated, err := s.outlets.GetOutlet(r.Context(), id)
	if err != nil || updated == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
		return
	}
	writeJSON(w, http.StatusOK, outletViewOf(updated))
}

// allowedVideoMIME sniffs the upload and accepts the container formats the
// visit server can play back.
func allowedVideoMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	switch mime {
	case "video/mp4", "video/webm", "video/avi":
		return mime, true
	}
	return "", false
}

// handleOutletMedia compresses a short outlet walkthrough video. Nothing is
// stored server side; the compressed bytes go back to the caller for attachment
// to the outlet record upstream.
func (s *Server) handleOutletMedia(w http.ResponseWriter, r *http.Request) {
	if _, err := outletID(r); err != nil {
		writeError(w, http.StatusBadRequest, "invalid outlet id")
		return
	}
	if s.video == nil {
		writeError(w, http.StatusServiceUnavailable, "video processing unavailable")
		return
	}

	if err := r.ParseMultipartForm(maxVideoUpload); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	file, _, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "video file required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("failed to read video upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}
	if _, ok := allowedVideoMIME(raw); !ok {
		writeError(w, http.StatusBadRequest, "unsupported video format")
		return
	}

	out, err := compress.CompressVideo(r.Context(), s.video, raw, s.videoPol)
	if err != nil {
		var tooLarge *compress.RawTooLargeError
		var overBudget *compress.BudgetExceededError
		switch {
		case errors.As(err, &tooLarge), errors.As(err, &overBudget):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			s.logger.Error("failed to compress video", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to compress video")
		}
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		s.logger.Error("failed to write compressed video", "error", err)
	}
}
