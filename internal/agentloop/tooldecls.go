package agentloop

import "google.golang.org/genai"

// Tool name constants, matching the literal function names the model is
// told about and the names Dispatch switches on.
const (
	toolBash         = "bash"
	toolReadFile     = "read_file"
	toolWriteFile    = "write_file"
	toolEditFile     = "edit_file"
	toolListFiles    = "list_files"
	toolSearchFiles  = "search_files"
	toolGoogleSearch = "google_search"
	toolWebFetch     = "web_fetch"
	toolSendMessage  = "send_message"
	toolScheduleTask = "schedule_task"
	toolListTasks    = "list_tasks"
	toolPauseTask    = "pause_task"
	toolResumeTask   = "resume_task"
	toolCancelTask   = "cancel_task"
)

func strParam(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

// toolDeclarations is the full function-calling surface offered to the
// model on every turn.
var toolDeclarations = []*genai.FunctionDeclaration{
	{
		Name:        toolBash,
		Description: "Run a shell command in the group working directory and return its combined output.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"command": strParam("the shell command to execute")},
			Required:   []string{"command"},
		},
	},
	{
		Name:        toolReadFile,
		Description: "Read a text file's contents, relative to the group working directory.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"path": strParam("file path relative to the working directory")},
			Required:   []string{"path"},
		},
	},
	{
		Name:        toolWriteFile,
		Description: "Overwrite (or create) a text file relative to the group working directory.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path":    strParam("file path relative to the working directory"),
				"content": strParam("full file content to write"),
			},
			Required: []string{"path", "content"},
		},
	},
	{
		Name:        toolEditFile,
		Description: "Replace the first occurrence of old_text with new_text in a file.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path":     strParam("file path relative to the working directory"),
				"old_text": strParam("exact text to find"),
				"new_text": strParam("replacement text"),
			},
			Required: []string{"path", "old_text", "new_text"},
		},
	},
	{
		Name:        toolListFiles,
		Description: "List files and directories under a path relative to the group working directory.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"path": strParam("directory path relative to the working directory, empty for the root")},
		},
	},
	{
		Name:        toolSearchFiles,
		Description: "Search file contents under the group working directory for a literal substring.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"query": strParam("literal substring to search for")},
			Required:   []string{"query"},
		},
	},
	{
		Name:        toolGoogleSearch,
		Description: "Run a web search query and return result titles, snippets and URLs.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"query": strParam("search query")},
			Required:   []string{"query"},
		},
	},
	{
		Name:        toolWebFetch,
		Description: "Fetch a URL and return its text content, truncated to a safe size.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"url": strParam("absolute URL to fetch")},
			Required:   []string{"url"},
		},
	},
	{
		Name:        toolSendMessage,
		Description: "Send a chat message to a channel. The main group may message any channel; other groups only their own.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"channel_id": strParam("target channel id"),
				"text":       strParam("message text"),
			},
			Required: []string{"channel_id", "text"},
		},
	},
	{
		Name:        toolScheduleTask,
		Description: "Schedule a future agent invocation: cron, fixed interval, or one-shot.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"prompt":            strParam("the prompt the scheduled invocation should run"),
				"schedule_type":     strParam("one of: cron, interval, once"),
				"schedule_value":    strParam("cron expression, interval as an integer count of milliseconds, or ISO-8601 timestamp, matching schedule_type"),
				"context_mode":      strParam("one of: group, isolated"),
				"target_channel_id": strParam("channel id the task's invocation belongs to"),
			},
			Required: []string{"prompt", "schedule_type", "schedule_value", "context_mode", "target_channel_id"},
		},
	},
	{
		Name:        toolListTasks,
		Description: "List scheduled tasks visible to this group from the last refreshed snapshot.",
		Parameters:  &genai.Schema{Type: genai.TypeObject},
	},
	{
		Name:        toolPauseTask,
		Description: "Pause a scheduled task by id.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"task_id": strParam("task id")},
			Required:   []string{"task_id"},
		},
	},
	{
		Name:        toolResumeTask,
		Description: "Resume a paused scheduled task by id.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"task_id": strParam("task id")},
			Required:   []string{"task_id"},
		},
	},
	{
		Name:        toolCancelTask,
		Description: "Cancel a scheduled task by id.",
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{"task_id": strParam("task id")},
			Required:   []string{"task_id"},
		},
	},
}
