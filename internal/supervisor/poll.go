package supervisor

import (
	"context"
	"time"
)

func (s *Supervisor) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce queries messages newer than last_timestamp, advances and
// persists the watermark to the batch max *before* enqueuing, then enqueues
// a message check for every distinct channel the batch touched. Advancing
// before enqueuing means a crash mid-dispatch loses at most the enqueue,
// never causes the same batch to be re-read and re-dispatched forever.
func (s *Supervisor) pollOnce(ctx context.Context) {
	last, err := s.cfg.Store.LastTimestamp(ctx)
	if err != nil {
		s.logError("poll_get_watermark_failed", err)
		return
	}

	messages, err := s.cfg.Store.MessagesSinceGlobal(ctx, last, s.cfg.BotSenderName)
	if err != nil {
		s.logError("poll_query_failed", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	batchMax := last
	channels := make([]string, 0)
	seen := make(map[string]bool)
	for _, m := range messages {
		if m.Timestamp > batchMax {
			batchMax = m.Timestamp
		}
		if !seen[m.ChannelID] {
			seen[m.ChannelID] = true
			channels = append(channels, m.ChannelID)
		}
	}

	if err := s.cfg.Store.SetLastTimestamp(ctx, batchMax); err != nil {
		s.logError("poll_set_watermark_failed", err)
		return
	}

	for _, channelID := range channels {
		s.cfg.Queue.EnqueueMessageCheck(ctx, channelID)
	}
}

// recoverOnStartup re-runs "messages since last_agent_timestamp" for every
// registered channel and enqueues a check if any are pending, so a crash
// between dispatch and the next poll tick does not strand a channel's
// backlog unprocessed.
func (s *Supervisor) recoverOnStartup(ctx context.Context) error {
	channels, err := s.cfg.Store.ListChannels(ctx)
	if err != nil {
		return err
	}
	for _, channel := range channels {
		since, err := s.cfg.Store.LastAgentTimestamp(ctx, channel.ChannelID)
		if err != nil {
			s.logError("recovery_get_watermark_failed", err)
			continue
		}
		messages, err := s.cfg.Store.MessagesSinceChannel(ctx, channel.ChannelID, since, s.cfg.BotSenderName)
		if err != nil {
			s.logError("recovery_query_failed", err)
			continue
		}
		if len(messages) > 0 {
			s.cfg.Queue.EnqueueMessageCheck(ctx, channel.ChannelID)
		}
	}
	return nil
}

func (s *Supervisor) logError(msg string, err error) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error(msg, "error", err)
	}
}
