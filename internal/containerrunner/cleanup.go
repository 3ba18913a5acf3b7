package containerrunner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// CleanupStale removes any nanoclaw-prefixed containers left over from a
// previous process (crash, kill -9, power loss). Run once at startup before
// the queue accepts work.
func (r *Runner) CleanupStale(ctx context.Context) error {
	names, err := r.listStale(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range names {
		cmd := execCommandFunc(ctx, r.runtimeBin, "rm", "-f", SanitizeName(name))
		if err := cmd.Run(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove stale container %s: %w", name, err)
		}
	}
	return firstErr
}

func (r *Runner) listStale(ctx context.Context) ([]string, error) {
	cmd := execCommandFunc(ctx, r.runtimeBin, "ps", "-a", "--filter", "name=nanoclaw-", "--format", "{{.Names}}")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list stale containers: %w", err)
	}
	var names []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "nanoclaw-") {
			continue
		}
		names = append(names, line)
	}
	return names, nil
}
