package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

func TestMetrics_ObserveEvent(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(models.Event{AgencyID: "sasp", Kind: models.ChangeCreated})
	m.ObserveEvent(models.Event{AgencyID: "sasp", Kind: models.ChangeCreated})
	m.ObserveEvent(models.Event{AgencyID: "samc", Kind: models.ChangeDeleted})
	m.ObserveEvent(models.Event{AgencyID: "sasp", Kind: models.ChangeCreated, Origin: "other-instance"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("sasp", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("samc", "deleted")))
}

func TestMetrics_MiddlewareLabelsByRouteTemplate(t *testing.T) {
	m := NewMetrics()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/agency/{agency_id}/calls/{call_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/agency/sasp/calls/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(
		m.requests.WithLabelValues(http.MethodGet, "/agency/{agency_id}/calls/{call_id}", "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.GaugeFunc("bus_subscribers", "Attached bus subscribers", func() float64 { return 7 })
	m.CounterFunc("bus_overflows_total", "Subscriber queue overflows", func() float64 { return 2 })
	m.ObserveEvent(models.Event{AgencyID: "sasp", Kind: models.ChangeUpdated})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "dispatch_bus_subscribers 7")
	assert.Contains(t, body, "dispatch_bus_overflows_total 2")
	assert.Contains(t, body, `dispatch_call_events_total{agency="sasp",kind="updated"} 1`)
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)

	_, _, err := rw.Hijack()
	assert.Error(t, err)
}
