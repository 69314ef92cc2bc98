package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordStepOutcome(t *testing.T) {
	stepOutcomesTotal.Reset()

	RecordStepOutcome("email_infra", 3, "failed")
	RecordStepOutcome("email_infra", 3, "failed")
	RecordStepOutcome("outreach_tools", 2, "skipped")

	require.Equal(t, float64(2), testutil.ToFloat64(stepOutcomesTotal.WithLabelValues("email_infra", "3", "failed")))
	require.Equal(t, float64(1), testutil.ToFloat64(stepOutcomesTotal.WithLabelValues("outreach_tools", "2", "skipped")))
}

func TestRecordStatusTransition(t *testing.T) {
	statusTransitionsTotal.Reset()

	RecordStatusTransition("email_infra", "provisioning", "active")

	counter, err := statusTransitionsTotal.GetMetricWithLabelValues("email_infra", "provisioning", "active")
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestObserveStepDuration(t *testing.T) {
	stepDuration.Reset()

	ObserveStepDuration("email_infra", 1, 250*time.Millisecond)

	require.Equal(t, 1, testutil.CollectAndCount(stepDuration))
}

func TestStepLabel(t *testing.T) {
	require.Equal(t, "1", stepLabel(1))
	require.Equal(t, "9", stepLabel(9))
	require.Equal(t, "other", stepLabel(0))
	require.Equal(t, "other", stepLabel(12))
}

func TestHandlerExposesCollectors(t *testing.T) {
	jobsTotal.Reset()
	RecordJob("enqueued")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "gtm_jobqueue_jobs_total"))
}
