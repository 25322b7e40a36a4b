package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/hookbot/internal/commander"
	"github.com/stupiduntilnot/hookbot/internal/dispatch"
)

// updateHandler is the transport-independent update path.
type updateHandler interface {
	Handle(ctx context.Context, u cmdpkg.Update) dispatch.Reply
}

// poll long-polls commander and sends each reply until ctx is done.
func poll(ctx context.Context, commander cmdpkg.Commander, h updateHandler, timeout int, sleep time.Duration, logger *zap.Logger) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := commander.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("getUpdates error", zap.Error(err))
			if !pause(ctx, sleep) {
				return nil
			}
			continue
		}
		if len(updates) == 0 {
			if !pause(ctx, sleep) {
				return nil
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			reply := h.Handle(ctx, update)
			if reply.Empty() {
				continue
			}
			if err := commander.SendMessage(ctx, reply.ChatID, reply.Text, reply.ReplyTo); err != nil {
				logger.Warn("sendMessage error", zap.Int64("chat_id", reply.ChatID), zap.Error(err))
			}
		}
	}
}

// pause sleeps for d and reports whether ctx is still live.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
