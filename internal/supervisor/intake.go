package supervisor

import (
	"context"
	"fmt"
)

// Intake records chat metadata unconditionally, then — only for channels
// that are registered — appends the message row with mentions_bot set to
// the event's own native mention/reply signal. The trigger regex is a
// separate, later gate (see processChannel), not folded into this field.
// The polling loop, not Intake, decides when to enqueue work, so a burst of
// events never triggers more than one dispatch pass per channel per tick.
func (s *Supervisor) Intake(ctx context.Context, evt ChatEvent) error {
	if err := s.cfg.Store.RecordChatMeta(ctx, evt.JID, evt.ChatName, evt.LastMessageTime); err != nil {
		return fmt.Errorf("record chat meta: %w", err)
	}

	if evt.ChannelID == "" {
		return nil
	}
	_, err := s.cfg.Store.GetChannel(ctx, evt.ChannelID)
	if err != nil {
		// Not registered: chat metadata is still recorded above, but there is
		// no message history to maintain for an unregistered channel.
		return nil
	}

	content := buildContentWithAttachments(evt.Text, evt.Attachments)

	_, err = s.cfg.Store.AppendMessage(ctx, messageFromEvent(evt, content, evt.MentionsBot))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}
