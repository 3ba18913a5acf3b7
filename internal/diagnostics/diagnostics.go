// Package diagnostics runs read-only health checks against a running
// nanoclaw installation: config, database, container runtime, and network
// reachability of the configured model provider.
package diagnostics

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/config"
	"github.com/nanoclaw/nanoclaw/internal/store"
)

// CheckResult is the outcome of a single diagnostic check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // PASS, FAIL, WARN, SKIP
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Report bundles every check result with the system it ran on.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// SystemInfo identifies the host nanoclaw is running on.
type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes every check and returns the combined report.
func Run(ctx context.Context, cfg config.Config, version string) Report {
	r := Report{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkDatabase,
		checkHomeDirWritable,
		checkContainerRuntime,
		checkNetwork,
	}
	for _, check := range checks {
		r.Results = append(r.Results, check(ctx, cfg))
	}
	return r
}

func checkConfig(_ context.Context, cfg config.Config) CheckResult {
	if cfg.HomeDir == "" {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "home directory not resolved"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", cfg.HomeDir)}
}

func checkAPIKey(_ context.Context, cfg config.Config) CheckResult {
	if cfg.GeminiAPIKey != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: "GEMINI_API_KEY is set"}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: "GEMINI_API_KEY not set",
		Detail:  "sandboxed agents will fail to start without it",
	}
}

func checkDatabase(ctx context.Context, cfg config.Config) CheckResult {
	if cfg.HomeDir == "" {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "home directory not resolved"}
	}
	dbPath := filepath.Join(cfg.HomeDir, "nanoclaw.db")
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer st.Close()
	if _, err := st.ListChannels(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "connection and schema valid"}
}

func checkHomeDirWritable(_ context.Context, cfg config.Config) CheckResult {
	if cfg.HomeDir == "" {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "home directory not resolved"}
	}
	probe := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(probe)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

func checkContainerRuntime(ctx context.Context, _ config.Config) CheckResult {
	for _, bin := range []string{"container", "docker"} {
		path, err := exec.LookPath(bin)
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, bin, "info")
		if err := cmd.Run(); err != nil {
			return CheckResult{Name: "Container Runtime", Status: "FAIL", Message: fmt.Sprintf("%s found at %s but daemon unreachable: %v", bin, path, err)}
		}
		return CheckResult{Name: "Container Runtime", Status: "PASS", Message: fmt.Sprintf("%s ok (%s)", bin, path)}
	}
	return CheckResult{Name: "Container Runtime", Status: "FAIL", Message: "no container runtime CLI found on PATH"}
}

func checkNetwork(ctx context.Context, _ config.Config) CheckResult {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	host := "generativelanguage.googleapis.com"
	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
	}
}
