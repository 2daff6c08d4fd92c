package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

func TestCounters(t *testing.T) {
	Register()
	before := testutil.ToFloat64(switchCounter.WithLabelValues("J1"))
	RecordSwitch("J1")
	RecordSwitch("J1")
	assert.Equal(t, before+2, testutil.ToFloat64(switchCounter.WithLabelValues("J1")))

	p, r, f := testutil.ToFloat64(preemptionCounter), testutil.ToFloat64(restorationCounter), testutil.ToFloat64(restoreFailureCounter)
	RecordPreemption()
	RecordRestoration(false)
	RecordRestoration(true)
	assert.Equal(t, p+1, testutil.ToFloat64(preemptionCounter))
	assert.Equal(t, r+2, testutil.ToFloat64(restorationCounter))
	assert.Equal(t, f+1, testutil.ToFloat64(restoreFailureCounter))
}

func TestControlErrorsByOp(t *testing.T) {
	Register()
	g := testutil.ToFloat64(controlErrorCounter.WithLabelValues("get_phase"))
	o := testutil.ToFloat64(controlErrorCounter.WithLabelValues("other"))
	RecordControlErrors([]error{
		entity.NewControlError("J1", "get_phase", errors.New("timeout")),
		errors.New("list vehicles: timeout"),
	})
	assert.Equal(t, g+1, testutil.ToFloat64(controlErrorCounter.WithLabelValues("get_phase")))
	assert.Equal(t, o+1, testutil.ToFloat64(controlErrorCounter.WithLabelValues("other")))
}

func TestHandlerExposesGauges(t *testing.T) {
	SetNetwork(entity.NetworkStatus{Time: 42, Vehicles: 7}, 2)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "signal_vehicles_in_network 7"))
	assert.True(t, strings.Contains(body, "signal_suppressed_junctions 2"))
	assert.True(t, strings.Contains(body, "signal_sim_time_seconds 42"))
}
