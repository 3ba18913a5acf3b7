// Package containerrunner launches the sandboxed agent subprocess: one
// hardened container per invocation, JSON in on stdin, a single framed JSON
// block out on stdout. The container runtime itself is an external
// collaborator (§1 Non-goals) invoked as a CLI subprocess, never an API
// client — so this package shells out to whichever of `container`/`docker`
// is found on PATH.
package containerrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanoclaw/nanoclaw/internal/telemetry"
)

// Image is the prebuilt sandbox image name (rebuilt out-of-band).
const Image = "nanoclaw-agent:latest"

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// SanitizeName strips every character outside [A-Za-z0-9-] from s. Applied
// both when a container name is built and again immediately before it is
// used in any shell-adjacent context.
func SanitizeName(s string) string {
	return nameSanitizer.ReplaceAllString(s, "")
}

// ContainerName builds the sanitized name nanoclaw-{folder}-{shortUuid}.
func ContainerName(groupFolder string) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return SanitizeName(fmt.Sprintf("nanoclaw-%s-%s", groupFolder, short))
}

// Mount describes one bind mount passed to the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

func (m Mount) flag() string {
	mode := "rw"
	if m.ReadOnly {
		mode = "ro"
	}
	return fmt.Sprintf("%s:%s:%s", m.HostPath, m.ContainerPath, mode)
}

// SecurityOverrides lets a group config opt out of individual hardening
// flags; all are on by default.
type SecurityOverrides struct {
	CapDropAll      *bool
	ReadOnlyRootfs  *bool
	NoNewPrivileges *bool
	MemoryLimit     string // e.g. "512m"; empty disables the flag
	CPULimit        string // e.g. "1"; empty disables the flag
}

func (o SecurityOverrides) resolve() (capDrop, readOnly, noNewPriv bool, memory, cpus string) {
	capDrop = o.CapDropAll == nil || *o.CapDropAll
	readOnly = o.ReadOnlyRootfs == nil || *o.ReadOnlyRootfs
	noNewPriv = o.NoNewPrivileges == nil || *o.NoNewPrivileges
	memory = o.MemoryLimit
	if memory == "" {
		memory = "512m"
	}
	cpus = o.CPULimit
	if cpus == "" {
		cpus = "1"
	}
	return
}

// Invocation describes a single sandboxed agent run.
type Invocation struct {
	GroupFolder string
	Mounts      []Mount
	Secrets     map[string]string // injected as -e NAME=VALUE only, never on disk
	Security    SecurityOverrides
	Stdin       []byte
}

// Runner launches and tracks sandboxed agent containers.
type Runner struct {
	runtimeBin string
}

// OnSpawn is called the instant the subprocess is live, so its caller (the
// per-channel queue) can register it for shutdown targeting.
type OnSpawn func(proc *Handle, containerName string)

// New detects the container runtime binary and verifies daemon health.
func New(ctx context.Context) (*Runner, error) {
	bin, err := detectRuntime()
	if err != nil {
		return nil, err
	}
	infoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := execCommandFunc(infoCtx, bin, "info")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s daemon not healthy: %w", bin, err)
	}
	return &Runner{runtimeBin: bin}, nil
}

func detectRuntime() (string, error) {
	for _, candidate := range []string{"container", "docker"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	fallback := orbstackDockerPath()
	if info, err := os.Stat(fallback); err == nil && !info.IsDir() {
		return fallback, nil
	}
	return "", fmt.Errorf("no container runtime found: need 'container' or 'docker' on PATH, or %s", fallback)
}

func orbstackDockerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.orbstack/bin/docker"
	}
	return filepath.Join(home, ".orbstack", "bin", "docker")
}

// Run launches one sandboxed agent invocation, writes inv.Stdin to the
// child's stdin, and returns the parsed ContainerOutput bytes found between
// the framing markers. onSpawn fires as soon as the subprocess is live.
func (r *Runner) Run(ctx context.Context, inv Invocation, onSpawn OnSpawn) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "containerrunner.run")
	defer span.End()

	name := ContainerName(inv.GroupFolder)
	args := r.buildArgs(inv, name)

	cmd := execCommandFunc(ctx, r.runtimeBin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	handle := &Handle{cmd: cmd, runtimeBin: r.runtimeBin, containerName: name}
	if onSpawn != nil {
		onSpawn(handle, name)
	}

	if _, err := stdin.Write(inv.Stdin); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("write stdin: %w", err)
	}
	stdin.Close()

	waitErr := cmd.Wait()
	if waitErr != nil {
		return nil, fmt.Errorf("container exited with error: %w (stderr: %s)", waitErr, stderr.String())
	}

	framed, err := ExtractFramedOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return framed, nil
}

func (r *Runner) buildArgs(inv Invocation, name string) []string {
	capDrop, readOnly, noNewPriv, memory, cpus := inv.Security.resolve()

	args := []string{"run", "--rm", "-i", "--name", name}
	if capDrop {
		args = append(args, "--cap-drop=ALL")
	}
	if readOnly {
		args = append(args, "--read-only", "--tmpfs=/tmp")
	}
	if noNewPriv {
		args = append(args, "--security-opt=no-new-privileges")
	}
	if memory != "" {
		args = append(args, "--memory="+memory)
	}
	if cpus != "" {
		args = append(args, "--cpus="+cpus)
	}
	for _, m := range inv.Mounts {
		args = append(args, "-v", m.flag())
	}
	for k, v := range inv.Secrets {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, Image)
	return args
}
