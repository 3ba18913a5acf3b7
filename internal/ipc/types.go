// Package ipc watches each group's filesystem mailbox for files the
// sandboxed agent dropped, authorizes and dispatches them, and writes the
// tasks.json/groups.json snapshots the agent reads back. The directory a
// file was found in is its identity; nothing in the payload is trusted for
// that purpose.
package ipc

import "fmt"

// MessageFile is the payload of an ipc/{folder}/messages/*.json file.
type MessageFile struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	ChannelID string `json:"channelId"`
	Text      string `json:"text"`
}

func (m MessageFile) validate() error {
	if m.Type != "message" {
		return fmt.Errorf("unexpected type %q", m.Type)
	}
	if m.ChannelID == "" {
		return fmt.Errorf("channelId is required")
	}
	if m.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// TaskFile is the payload of an ipc/{folder}/tasks/*.json file. The
// concrete fields populated depend on Type.
type TaskFile struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`

	// schedule_task
	Prompt          string `json:"prompt"`
	ScheduleType    string `json:"schedule_type"`
	ScheduleValue   string `json:"schedule_value"`
	ContextMode     string `json:"context_mode"`
	TargetChannelID string `json:"targetChannelId"`

	// pause_task / resume_task / cancel_task
	TaskID string `json:"taskId"`

	// register_channel
	ChannelID       string            `json:"channelId"`
	Name            string            `json:"name"`
	Folder          string            `json:"folder"`
	Trigger         string            `json:"trigger"`
	ContainerConfig map[string]string `json:"containerConfig,omitempty"`
}

const (
	TypeScheduleTask    = "schedule_task"
	TypePauseTask       = "pause_task"
	TypeResumeTask      = "resume_task"
	TypeCancelTask      = "cancel_task"
	TypeRefreshGroups   = "refresh_groups"
	TypeRegisterChannel = "register_channel"
)

func (t TaskFile) validate() error {
	switch t.Type {
	case TypeScheduleTask:
		if t.Prompt == "" {
			return fmt.Errorf("prompt is required")
		}
		switch t.ScheduleType {
		case "cron", "interval", "once":
		default:
			return fmt.Errorf("schedule_type must be one of cron, interval, once")
		}
		if t.ScheduleValue == "" {
			return fmt.Errorf("schedule_value is required")
		}
		switch t.ContextMode {
		case "group", "isolated":
		default:
			return fmt.Errorf("context_mode must be group or isolated")
		}
		if t.TargetChannelID == "" {
			return fmt.Errorf("targetChannelId is required")
		}
	case TypePauseTask, TypeResumeTask, TypeCancelTask:
		if t.TaskID == "" {
			return fmt.Errorf("taskId is required")
		}
	case TypeRefreshGroups:
		// no payload fields required
	case TypeRegisterChannel:
		if t.ChannelID == "" || t.Name == "" || t.Folder == "" || t.Trigger == "" {
			return fmt.Errorf("channelId, name, folder and trigger are required")
		}
	default:
		return fmt.Errorf("unknown type %q", t.Type)
	}
	return nil
}

// GroupSnapshot is one entry of groups.json.
type GroupSnapshot struct {
	ChannelID    string `json:"channelId"`
	Name         string `json:"name"`
	LastActivity string `json:"lastActivity"`
	IsRegistered bool   `json:"isRegistered"`
}

// TaskSnapshot is one entry of tasks.json.
type TaskSnapshot struct {
	ID            string `json:"id"`
	GroupFolder   string `json:"groupFolder"`
	ChannelID     string `json:"channelId"`
	Prompt        string `json:"prompt"`
	ScheduleType  string `json:"scheduleType"`
	ScheduleValue string `json:"scheduleValue"`
	ContextMode   string `json:"contextMode"`
	Status        string `json:"status"`
	NextRun       string `json:"nextRun,omitempty"`
}
