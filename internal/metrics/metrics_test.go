package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLedgerOperation(t *testing.T) {
	before := testutil.ToFloat64(ledgerOperations.WithLabelValues("send", "success"))
	RecordLedgerOperation("send", "success")
	RecordLedgerOperation("send", "success")

	assert.Equal(t, before+2, testutil.ToFloat64(ledgerOperations.WithLabelValues("send", "success")))
}

func TestSetReconcileState(t *testing.T) {
	SetReconcileState(2, 5, 1)

	assert.Equal(t, float64(2), testutil.ToFloat64(reconcileDrift))
	assert.Equal(t, float64(5), testutil.ToFloat64(reconcileStalePending))
	assert.Equal(t, float64(1), testutil.ToFloat64(reconcilePayoutFailures))
	assert.NotZero(t, testutil.ToFloat64(reconcileLastRun))
}

func TestInstrumentHandler_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/appointments/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	count := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/appointments/{id}", "418"))
	assert.Equal(t, float64(1), count)
}

func TestHandler(t *testing.T) {
	RecordPayoutFailure()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "servicehub_ledger_payout_failures_total"))
}
