package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteSnapshots writes tasks.json and groups.json into a group's IPC
// mount. tasks is pre-filtered by the caller to the group's own tasks
// (unless main); groups is the full list for main, self-only otherwise.
// The host process does not call it before an agent launch, so the
// sandbox's list_tasks finds no tasks.json unless one is already present.
func WriteSnapshots(dataDir, groupFolder string, tasks []TaskSnapshot, groups []GroupSnapshot) error {
	dir := filepath.Join(dataDir, "ipc", groupFolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir ipc mount: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "tasks.json"), tasks); err != nil {
		return fmt.Errorf("write tasks.json: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "groups.json"), groups); err != nil {
		return fmt.Errorf("write groups.json: %w", err)
	}
	return nil
}

// EnsureGroupDirs creates the messages/ and tasks/ subdirectories a group's
// agent writes into, plus the shared errors/ quarantine directory.
func EnsureGroupDirs(dataDir, groupFolder string) error {
	for _, kind := range []string{"messages", "tasks"} {
		if err := os.MkdirAll(filepath.Join(dataDir, "ipc", groupFolder, kind), 0o755); err != nil {
			return fmt.Errorf("mkdir ipc/%s/%s: %w", groupFolder, kind, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "ipc", "errors"), 0o755); err != nil {
		return fmt.Errorf("mkdir ipc/errors: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
