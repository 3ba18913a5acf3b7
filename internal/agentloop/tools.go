package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanoclaw/nanoclaw/internal/ipc"
)

// toolContext is the state a tool call needs beyond its own arguments.
type toolContext struct {
	groupDir   string
	globalDir  string
	projectDir string
	ipcDir     string
	channelID  string
	isMain     bool
	now        func() string
}

// execCommandFunc is swapped out in tests, mirroring containerrunner's
// swappable-exec-var idiom.
var execCommandFunc = func(ctx context.Context, dir string, env []string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

// httpGetFunc is swapped out in tests so web_fetch/google_search never hit
// the network during a test run.
var httpGetFunc = func(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return client.Do(req)
}

// Dispatch executes one named tool call and returns its JSON-able result.
func Dispatch(ctx context.Context, name string, args map[string]any, tc *toolContext) (map[string]any, error) {
	switch name {
	case toolBash:
		return toolRunBash(ctx, args, tc)
	case toolReadFile:
		return toolReadFileFn(args, tc)
	case toolWriteFile:
		return toolWriteFileFn(args, tc)
	case toolEditFile:
		return toolEditFileFn(args, tc)
	case toolListFiles:
		return toolListFilesFn(args, tc)
	case toolSearchFiles:
		return toolSearchFilesFn(args, tc)
	case toolGoogleSearch:
		return toolGoogleSearchFn(ctx, args)
	case toolWebFetch:
		return toolWebFetchFn(ctx, args)
	case toolSendMessage:
		return toolSendMessageFn(args, tc)
	case toolScheduleTask:
		return toolScheduleTaskFn(args, tc)
	case toolListTasks:
		return toolListTasksFn(tc)
	case toolPauseTask:
		return toolTaskActionFn(args, tc, ipc.TypePauseTask)
	case toolResumeTask:
		return toolTaskActionFn(args, tc, ipc.TypeResumeTask)
	case toolCancelTask:
		return toolTaskActionFn(args, tc, ipc.TypeCancelTask)
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

// resolvePath confines path to dir, rejecting any traversal outside it.
func resolvePath(dir, path string) (string, error) {
	joined := filepath.Join(dir, path)
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absDir && !strings.HasPrefix(absJoined, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", path)
	}
	return absJoined, nil
}

func toolRunBash(ctx context.Context, args map[string]any, tc *toolContext) (map[string]any, error) {
	command, err := argString(args, "command")
	if err != nil {
		return nil, err
	}
	cmd := execCommandFunc(ctx, tc.groupDir, safeEnv(), "sh", "-c", command)
	out, runErr := cmd.CombinedOutput()
	result := map[string]any{"output": string(out)}
	if runErr != nil {
		result["error"] = runErr.Error()
	}
	return result, nil
}

// safeEnv strips GEMINI_API_KEY and GEMINI_MODEL from the environment
// passed to any bash-tool child process, so a shell command can never read
// them back out of the process environment.
func safeEnv() []string {
	env := os.Environ()
	safe := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "GEMINI_API_KEY=") || strings.HasPrefix(kv, "GEMINI_MODEL=") {
			continue
		}
		safe = append(safe, kv)
	}
	return safe
}

func toolReadFileFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(tc.groupDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return map[string]any{"content": string(data)}, nil
}

func toolWriteFileFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := argString(args, "content")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(tc.groupDir, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func toolEditFileFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	oldText, err := argString(args, "old_text")
	if err != nil {
		return nil, err
	}
	newText, err := argString(args, "new_text")
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(tc.groupDir, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	if !strings.Contains(string(data), oldText) {
		return nil, fmt.Errorf("edit_file: old_text not found in %s", path)
	}
	updated := strings.Replace(string(data), oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	return map[string]any{"status": "ok"}, nil
}

func toolListFilesFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	path, _ := args["path"].(string)
	abs, err := resolvePath(tc.groupDir, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list_files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]any{"entries": names}, nil
}

func toolSearchFilesFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}
	var matches []string
	err = filepath.WalkDir(tc.groupDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		if strings.Contains(string(data), query) {
			rel, relErr := filepath.Rel(tc.groupDir, path)
			if relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search_files: %w", err)
	}
	sort.Strings(matches)
	return map[string]any{"matches": matches}, nil
}

func toolGoogleSearchFn(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}
	apiKey := os.Getenv("GOOGLE_SEARCH_API_KEY")
	cx := os.Getenv("GOOGLE_SEARCH_CX")
	if apiKey == "" || cx == "" {
		return map[string]any{"results": []any{}, "note": "web search is not configured"}, nil
	}
	url := fmt.Sprintf("https://www.googleapis.com/customsearch/v1?key=%s&cx=%s&q=%s", apiKey, cx, strings.ReplaceAll(query, " ", "+"))
	resp, err := httpGetFunc(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("google_search: %w", err)
	}
	defer resp.Body.Close()
	var parsed struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("google_search: decode: %w", err)
	}
	results := make([]map[string]any, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, map[string]any{"title": item.Title, "url": item.Link, "snippet": item.Snippet})
	}
	return map[string]any{"results": results}, nil
}

const webFetchMaxBytes = 64 << 10

func toolWebFetchFn(ctx context.Context, args map[string]any) (map[string]any, error) {
	url, err := argString(args, "url")
	if err != nil {
		return nil, err
	}
	resp, err := httpGetFunc(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	return map[string]any{"status": resp.StatusCode, "content": string(body)}, nil
}

func toolSendMessageFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	channelID, err := argString(args, "channel_id")
	if err != nil {
		return nil, err
	}
	text, err := argString(args, "text")
	if err != nil {
		return nil, err
	}
	payload := ipc.MessageFile{Type: "message", Timestamp: tc.timestamp(), ChannelID: channelID, Text: text}
	if err := writeIPCFile(filepath.Join(tc.ipcDir, "messages"), payload); err != nil {
		return nil, fmt.Errorf("send_message: %w", err)
	}
	return map[string]any{"status": "queued"}, nil
}

func toolScheduleTaskFn(args map[string]any, tc *toolContext) (map[string]any, error) {
	prompt, err := argString(args, "prompt")
	if err != nil {
		return nil, err
	}
	scheduleType, err := argString(args, "schedule_type")
	if err != nil {
		return nil, err
	}
	scheduleValue, err := argString(args, "schedule_value")
	if err != nil {
		return nil, err
	}
	contextMode, err := argString(args, "context_mode")
	if err != nil {
		return nil, err
	}
	targetChannelID, err := argString(args, "target_channel_id")
	if err != nil {
		return nil, err
	}
	if !tc.isMain && targetChannelID != tc.channelID {
		return nil, fmt.Errorf("schedule_task: non-main groups may only schedule on their own channel")
	}
	payload := ipc.TaskFile{
		Type: ipc.TypeScheduleTask, Timestamp: tc.timestamp(),
		Prompt: prompt, ScheduleType: scheduleType, ScheduleValue: scheduleValue,
		ContextMode: contextMode, TargetChannelID: targetChannelID,
	}
	if err := writeIPCFile(filepath.Join(tc.ipcDir, "tasks"), payload); err != nil {
		return nil, fmt.Errorf("schedule_task: %w", err)
	}
	return map[string]any{"status": "queued"}, nil
}

func toolListTasksFn(tc *toolContext) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(tc.ipcDir, "tasks.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"tasks": []any{}}, nil
		}
		return nil, fmt.Errorf("list_tasks: %w", err)
	}
	var snapshot []ipc.TaskSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("list_tasks: %w", err)
	}
	return map[string]any{"tasks": snapshot}, nil
}

func toolTaskActionFn(args map[string]any, tc *toolContext, actionType string) (map[string]any, error) {
	taskID, err := argString(args, "task_id")
	if err != nil {
		return nil, err
	}
	payload := ipc.TaskFile{Type: actionType, Timestamp: tc.timestamp(), TaskID: taskID}
	if err := writeIPCFile(filepath.Join(tc.ipcDir, "tasks"), payload); err != nil {
		return nil, fmt.Errorf("%s: %w", actionType, err)
	}
	return map[string]any{"status": "queued"}, nil
}

func (tc *toolContext) timestamp() string {
	if tc.now != nil {
		return tc.now()
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// writeIPCFile drops payload into dir under a uuid-named file, writing to
// a .tmp sibling first and renaming into place so the host watcher — which
// only ever reads *.json — can never observe a partially written file.
func writeIPCFile(dir string, payload any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	name := uuid.NewString() + ".json"
	tmp := filepath.Join(dir, name+".tmp")
	final := filepath.Join(dir, name)
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}
