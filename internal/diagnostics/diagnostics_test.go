package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/config"
)

func TestCheckAPIKeyWarnsWhenUnset(t *testing.T) {
	result := checkAPIKey(context.Background(), config.Config{})
	if result.Status != "WARN" {
		t.Fatalf("expected WARN when GeminiAPIKey is empty, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckAPIKeyPassesWhenSet(t *testing.T) {
	result := checkAPIKey(context.Background(), config.Config{GeminiAPIKey: "test-key"})
	if result.Status != "PASS" {
		t.Fatalf("expected PASS when GeminiAPIKey is set, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckConfigFailsWithoutHomeDir(t *testing.T) {
	result := checkConfig(context.Background(), config.Config{})
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL without a resolved home dir, got %s", result.Status)
	}
}

func TestCheckConfigPassesWithHomeDir(t *testing.T) {
	result := checkConfig(context.Background(), config.Config{HomeDir: t.TempDir()})
	if result.Status != "PASS" {
		t.Fatalf("expected PASS with a resolved home dir, got %s", result.Status)
	}
}

func TestCheckHomeDirWritableRoundTrips(t *testing.T) {
	result := checkHomeDirWritable(context.Background(), config.Config{HomeDir: t.TempDir()})
	if result.Status != "PASS" {
		t.Fatalf("expected PASS for a writable temp dir, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckDatabaseOpensSchema(t *testing.T) {
	result := checkDatabase(context.Background(), config.Config{HomeDir: t.TempDir()})
	if result.Status != "PASS" {
		t.Fatalf("expected PASS opening a fresh database, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckNetworkCanceledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checkNetwork(ctx, config.Config{})
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for a canceled context, got %s", result.Status)
	}
}

func TestRunProducesOneResultPerCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := Run(ctx, config.Config{HomeDir: t.TempDir()}, "test")
	if len(report.Results) != 6 {
		t.Fatalf("expected 6 check results, got %d", len(report.Results))
	}
	if report.System.OS == "" || report.System.Go == "" {
		t.Fatalf("expected system info to be populated, got %+v", report.System)
	}
}
