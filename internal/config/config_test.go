package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func validConfig(t *testing.T, dir string) *Config {
	cert := writeTempFile(t, dir, "cert.pem", "cert")
	key := writeTempFile(t, dir, "key.pem", "key")

	cfg := &Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    8443,
			TLS:     TLSFiles{Cert: cert, Key: key},
		},
		Upstream: map[string]Upstream{
			"api": {
				LoadBalancing: loadBalancing{Type: "round_robin"},
				Route:         RouteMatch{Host: "api.example.com", PathPrefix: "/v1"},
				Backends: []Backend{
					{ID: "b1", Address: "10.0.0.1:8080"},
					{ID: "b2", Address: "10.0.0.2:8080"},
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestParsePolicySynonyms(t *testing.T) {
	cases := map[string]LBPolicy{
		"random":          PolicyRandom,
		"round-robin":     PolicyRoundRobin,
		"round_robin":     PolicyRoundRobin,
		"rr":              PolicyRoundRobin,
		"consistent-hash": PolicyConsistentHash,
		"consistent_hash": PolicyConsistentHash,
		"ch":              PolicyConsistentHash,
		"RANDOM":          PolicyRandom,
	}
	for raw, want := range cases {
		got, err := ParsePolicy(raw)
		if err != nil {
			t.Errorf("ParsePolicy(%q) returned error: %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestParsePolicyUnknown(t *testing.T) {
	if _, err := ParsePolicy("least-conn"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)

	b := cfg.Upstream["api"].Backends[0]
	if b.Weight != 100 {
		t.Errorf("expected default weight 100, got %d", b.Weight)
	}
	if b.HealthCheck.Path != "/health" {
		t.Errorf("expected default health check path /health, got %s", b.HealthCheck.Path)
	}
	if b.HealthCheck.FailureThreshold != 3 {
		t.Errorf("expected default failure threshold 3, got %d", b.HealthCheck.FailureThreshold)
	}
	if b.HealthCheck.SuccessThreshold != 2 {
		t.Errorf("expected default success threshold 2, got %d", b.HealthCheck.SuccessThreshold)
	}
	if cfg.Listen.Protocol != "http3" {
		t.Errorf("expected default protocol http3, got %s", cfg.Listen.Protocol)
	}
}

func TestValidateRejectsNoUpstreams(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	cfg.Upstream = map[string]Upstream{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty upstream map")
	}
}

func TestValidateRejectsNoBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	up := cfg.Upstream["api"]
	up.Backends = nil
	cfg.Upstream["api"] = up
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for pool with no backends")
	}
}

func TestValidateRejectsDuplicateBackendIDs(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	up := cfg.Upstream["api"]
	up.Backends[1].ID = up.Backends[0].ID
	cfg.Upstream["api"] = up
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for duplicate backend ids")
	}
}

func TestValidateRejectsBadPathPrefix(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	up := cfg.Upstream["api"]
	up.Route.PathPrefix = "v1"
	cfg.Upstream["api"] = up
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for path_prefix not starting with '/'")
	}
}

func TestValidateRejectsEmptyRoute(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	up := cfg.Upstream["api"]
	up.Route = RouteMatch{}
	cfg.Upstream["api"] = up
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for route with neither host nor path_prefix")
	}
}

func TestValidateRejectsMissingTLSFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	cfg.Listen.TLS.Cert = filepath.Join(dir, "does-not-exist.pem")
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unreadable TLS cert")
	}
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	cfg.Listen.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestPoolNamesDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	up := cfg.Upstream["api"]
	cfg.Upstream["zeta"] = up
	cfg.Upstream["alpha"] = up

	names := cfg.PoolNames()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "api" || names[2] != "zeta" {
		t.Errorf("expected lexicographic order [alpha api zeta], got %v", names)
	}
}

func TestListenAddress(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig(t, dir)
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 9443
	if got, want := cfg.ListenAddress(), "127.0.0.1:9443"; got != want {
		t.Errorf("ListenAddress() = %q, want %q", got, want)
	}
}
