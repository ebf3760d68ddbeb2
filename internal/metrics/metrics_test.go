package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreRegistered(t *testing.T) {
	m := New("test")
	m.Operations.WithLabelValues("gpt3", "free").Inc()
	m.Points.WithLabelValues("gptokens").Add(0.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("gpt3", "free")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.Points.WithLabelValues("gptokens")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_operations_total")
}
