package containerrunner

import (
	"context"
	"os/exec"
)

// execCommandFunc is swapped out in tests to avoid spawning real
// containers.
var execCommandFunc = newExecCommand

func newExecCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
