package observability

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestWardenAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "warden.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var doc alertSpec
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(doc.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var wardenGroup *alertGroup
	for i := range doc.Groups {
		if doc.Groups[i].Name == "warden" {
			wardenGroup = &doc.Groups[i]
			break
		}
	}
	if wardenGroup == nil {
		t.Fatal("warden alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":            {severity: "critical", runbook: "docs/runbook-warden.md#high-error-rate"},
		"AuthorizationDenialSpike": {severity: "warning", runbook: "docs/runbook-warden.md#denial-spike"},
		"AuditQueueFallback":       {severity: "critical", runbook: "docs/runbook-warden.md#audit-fallback"},
		"AuditTaskDropped":         {severity: "warning", runbook: "docs/runbook-warden.md#audit-dropped"},
	}

	if len(wardenGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(wardenGroup.Rules))
	}

	for _, rule := range wardenGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
