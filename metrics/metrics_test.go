package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfersCounter(t *testing.T) {
	before := testutil.ToFloat64(TransfersTotal.WithLabelValues("success"))
	TransfersTotal.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TransfersTotal.WithLabelValues("success")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ReconcileDiscrepancies.Set(3)
	IndexerRequests.WithLabelValues("holders", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "b0ase_treasury_reconcile_discrepancies 3")
	assert.Contains(t, body, `b0ase_treasury_indexer_requests_total{endpoint="holders",status="ok"}`)
}
