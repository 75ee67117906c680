package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	EngineOperations.WithLabelValues("join", "ok").Inc()
	GatewayConnections.WithLabelValues("participant").Set(3)
	if got := testutil.ToFloat64(GatewayConnections.WithLabelValues("participant")); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"quiz_engine_operations_total", "quiz_gateway_connections"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}
