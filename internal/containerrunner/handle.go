package containerrunner

import (
	"context"
	"os/exec"
	"time"
)

// Handle is the host-side handle to a live sandboxed container. It
// satisfies queue.ProcHandle: Terminate/Kill are spawned detached, the way
// §4.1's shutdown algorithm describes ("spawn `container stop <name>`
// detached and move on"), so a hung container can never block shutdown.
type Handle struct {
	cmd           *exec.Cmd
	runtimeBin    string
	containerName string
}

// Terminate asks the runtime to stop the container gracefully.
func (h *Handle) Terminate(ctx context.Context) error {
	return h.spawnDetached(ctx, "stop", "-t", "5")
}

// Kill force-stops the container immediately.
func (h *Handle) Kill(ctx context.Context) error {
	return h.spawnDetached(ctx, "kill")
}

func (h *Handle) spawnDetached(ctx context.Context, subcommand string, extraArgs ...string) error {
	name := SanitizeName(h.containerName)
	args := append([]string{subcommand}, extraArgs...)
	args = append(args, name)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	cmd := execCommandFunc(stopCtx, h.runtimeBin, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return err
	}
	go func() {
		defer cancel()
		_ = cmd.Wait()
	}()
	return nil
}

// ContainerName returns the sanitized name this handle targets.
func (h *Handle) ContainerName() string {
	return h.containerName
}
