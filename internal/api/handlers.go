package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/chaz8081/capture-gateway/internal/capture"
	"github.com/chaz8081/capture-gateway/internal/settings"
)

const (
	defaultCaptureLimit = 100
	maxCaptureLimit     = 1000
)

// HandleStatus reports the session status
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.gateway.Snapshot())
}

type captureResponse struct {
	*capture.Record
	URL string `json:"url"`
}

// HandleListCaptures lists stored captures newest first
func (s *RESTServer) HandleListCaptures(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultCaptureLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxCaptureLimit {
		limit = maxCaptureLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	records, total, err := s.captures.ListCaptures(r.Context(), limit, offset)
	if err != nil {
		slog.Error("[API] listing captures failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}

	out := make([]captureResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, captureResponse{
			Record: rec,
			URL:    path.Join(s.opts.ImagePrefix, path.Base(rec.ImagePath)),
		})
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	s.respondJSON(w, http.StatusOK, out)
}

// HandleGetSettings returns the last accepted capture schedule
func (s *RESTServer) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.gateway.Settings())
}

// HandleUpdateSettings queues a capture schedule change
func (s *RESTServer) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
		s.respondError(w, http.StatusBadRequest, "invalid data")
		return
	}

	freq, errF := intField(req, "frequency")
	thresh, errT := intField(req, "threshold")
	if errF != nil || errT != nil {
		s.respondError(w, http.StatusBadRequest, "invalid or missing frequency/threshold")
		return
	}

	err := s.gateway.SubmitConfig(settings.Command{FrequencySeconds: freq, ThresholdPercent: thresh})
	var verr *settings.ValidationError
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, map[string]string{
			"message": "Settings queued successfully",
		})
	case errors.As(err, &verr):
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("%s %s", verr.Field, verr.Reason))
	case errors.Is(err, settings.ErrAlreadyPending):
		s.respondError(w, http.StatusTooManyRequests, "a previous settings change is still pending, please wait")
	default:
		slog.Error("[API] settings update failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to queue settings")
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("[API] failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// intField reads an integer that may arrive as a JSON number or a numeric
// string, as HTML forms tend to send.
func intField(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, fmt.Errorf("%s: not an integer", key)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case nil:
		return 0, fmt.Errorf("%s: missing", key)
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}
