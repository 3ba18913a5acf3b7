package ipc

import "context"

// Handlers are the host-side actions an authorized IPC file triggers. The
// watcher only parses and authorizes; it never touches the store or chat
// clients directly.
type Handlers interface {
	DeliverMessage(ctx context.Context, channelID, text string) error
	ScheduleTask(ctx context.Context, sourceFolder string, f TaskFile) error
	SetTaskStatus(ctx context.Context, sourceFolder, taskID, action string) error // action: pause/resume/cancel
	RefreshGroups(ctx context.Context) error
	RegisterChannel(ctx context.Context, f TaskFile) error
}
