package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestGuestLifecycleMetrics(t *testing.T) {
	GuestsActive.Set(3)
	GuestsCreatedTotal.Inc()
	GuestsUpdatedTotal.Inc()
	GuestsRemovedTotal.Inc()
	CommandErrorsTotal.WithLabelValues("create").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"fern_guests_active",
		"fern_guests_created_total",
		"fern_guests_updated_total",
		"fern_guests_removed_total",
		"fern_command_errors_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestHealthMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("catalog").Set(1)
	HealthCheckStatus.WithLabelValues("fern_home").Set(0)

	families, _ := prometheus.DefaultGatherer.Gather()
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	if !names["fern_health_check_status"] {
		t.Error("fern_health_check_status not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	fernMetrics := 0
	for _, f := range families {
		if len(f.GetName()) > 5 && f.GetName()[:5] == "fern_" {
			fernMetrics++
		}
	}

	if fernMetrics < 6 {
		t.Errorf("expected at least 6 fern_ metrics, got %d", fernMetrics)
	}
}
