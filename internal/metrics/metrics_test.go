package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveInstall("cli", "success", 0.5)
	m.IncDeploy("deployed")
	m.AddOverlayFiles(3)
}

func TestPromMetrics(t *testing.T) {
	p := NewProm("ocmodctl")
	p.ObserveInstall("http", "success", 0.2)
	p.ObserveInstall("http", "success", 0.4)
	p.ObserveInstall("cli", "error", 1)
	p.IncDeploy("up_to_date")
	p.AddOverlayFiles(4)
	p.AddOverlayFiles(0)

	if got := testutil.ToFloat64(p.installs.WithLabelValues("http", "success")); got != 2 {
		t.Errorf("installs{http,success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.deploys.WithLabelValues("up_to_date")); got != 1 {
		t.Errorf("deploys{up_to_date} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.overlayFiles); got != 4 {
		t.Errorf("overlay files = %v, want 4", got)
	}

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "ocmodctl_installs_total") {
		t.Errorf("metrics output missing installs counter:\n%s", body)
	}
}

func TestPromRegistriesAreIndependent(t *testing.T) {
	a := NewProm("ocmodctl")
	b := NewProm("ocmodctl")
	a.IncDeploy("deployed")
	if got := testutil.ToFloat64(b.deploys.WithLabelValues("deployed")); got != 0 {
		t.Errorf("second registry saw %v deploys", got)
	}
}
