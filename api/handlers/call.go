package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/api"
	"github.com/linesmerrill/police-cad-dispatch/dispatch"
	"github.com/linesmerrill/police-cad-dispatch/geo"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

// Call exported for testing purposes
type Call struct {
	Coordinator *dispatch.Coordinator
	Media       MediaUploader
}

// CallsHandler returns the calls of an agency in dispatch order, optionally
// filtered by callType, priority, status and q
func (c Call) CallsHandler(w http.ResponseWriter, r *http.Request) {
	agencyID := mux.Vars(r)["agency_id"]
	filter, err := callFilter(r)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}

	seq, err := c.Coordinator.List(r.Context(), api.UserID(r), agencyID, filter)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	// the frontend expects an array even when there are no calls
	calls := []models.Call{}
	for call := range seq {
		calls = append(calls, call)
	}
	writeJSON(w, http.StatusOK, calls)
}

func callFilter(r *http.Request) (models.CallFilter, error) {
	q := r.URL.Query()
	var f models.CallFilter
	for _, v := range queryList(q["callType"]) {
		ct, err := models.ParseCallType(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", dispatch.ErrValidation, err)
		}
		f.CallTypes = append(f.CallTypes, ct)
	}
	for _, v := range queryList(q["priority"]) {
		p, err := models.ParsePriority(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", dispatch.ErrValidation, err)
		}
		f.Priorities = append(f.Priorities, p)
	}
	for _, v := range queryList(q["status"]) {
		s, err := models.ParseStatus(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", dispatch.ErrValidation, err)
		}
		f.Statuses = append(f.Statuses, s)
	}
	f.Text = q.Get("q")
	return f, nil
}

// queryList accepts both repeated parameters and comma separated values
func queryList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// CreateCallHandler creates a new call
func (c Call) CreateCallHandler(w http.ResponseWriter, r *http.Request) {
	agencyID := mux.Vars(r)["agency_id"]
	var draft models.CallDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeDispatchError(w, r, fmt.Errorf("%w: %v", dispatch.ErrValidation, err))
		return
	}

	call, err := c.Coordinator.Create(r.Context(), api.UserID(r), agencyID, draft)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// CallByIDHandler returns a call by ID
func (c Call) CallByIDHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	zap.S().Debugf("call_id: %v", vars["call_id"])

	call, err := c.Coordinator.Get(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"])
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// UpdateCallHandler applies a partial update to a call
func (c Call) UpdateCallHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var patch models.CallPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDispatchError(w, r, fmt.Errorf("%w: %v", dispatch.ErrValidation, err))
		return
	}

	call, err := c.Coordinator.Update(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"], patch)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// DeleteCallHandler removes a call
func (c Call) DeleteCallHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := c.Coordinator.Delete(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"]); err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": vars["call_id"]})
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

// ChangeStatusHandler moves a call along its lifecycle
func (c Call) ChangeStatusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDispatchError(w, r, fmt.Errorf("%w: %v", dispatch.ErrValidation, err))
		return
	}
	if req.Status == "" {
		writeDispatchError(w, r, fmt.Errorf("%w: status is required", dispatch.ErrValidation))
		return
	}

	call, err := c.Coordinator.ChangeStatus(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"], req.Status)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// AssignUnitHandler attaches a unit to a call
func (c Call) AssignUnitHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	call, err := c.Coordinator.AssignUnit(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"], vars["unit_id"])
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// UnassignUnitHandler detaches a unit from a call
func (c Call) UnassignUnitHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	call, err := c.Coordinator.UnassignUnit(r.Context(), api.UserID(r), vars["agency_id"], vars["call_id"], vars["unit_id"])
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// MapHandler returns the active calls inside the minLat/minLng/maxLat/maxLng box
func (c Call) MapHandler(w http.ResponseWriter, r *http.Request) {
	agencyID := mux.Vars(r)["agency_id"]
	bounds, err := mapBounds(r)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}

	calls, err := c.Coordinator.Map(r.Context(), api.UserID(r), agencyID, bounds)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	if calls == nil {
		calls = []models.Call{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func mapBounds(r *http.Request) (geo.Bounds, error) {
	q := r.URL.Query()
	var b geo.Bounds
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"minLat", &b.MinLat},
		{"minLng", &b.MinLng},
		{"maxLat", &b.MaxLat},
		{"maxLng", &b.MaxLng},
	} {
		v, err := strconv.ParseFloat(q.Get(p.name), 64)
		if err != nil {
			return b, fmt.Errorf("%w: %s: %v", geo.ErrInvalidBounds, p.name, err)
		}
		*p.dst = v
	}
	return b, b.Validate()
}

// statusFor maps the dispatch errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidTransition), errors.Is(err, dispatch.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrValidation), errors.Is(err, geo.ErrInvalidBounds):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.S().Errorw("dispatch request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	} else {
		zap.S().Debugw("dispatch request rejected",
			"path", r.URL.Path,
			"status", code,
			"error", err)
	}
	writeJSON(w, code, models.ErrorMessageResponse{
		Response: models.MessageError{
			Message: dispatch.Message(err),
			Error:   http.StatusText(code),
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		zap.S().Errorw("failed to marshal response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
