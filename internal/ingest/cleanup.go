package ingest

import (
	"context"
	"log/slog"
	"time"
)

const cleanupInterval = 2 * time.Minute

// RunRoomCleanup marks abandoned call rooms ended: one pass immediately,
// then one every two minutes until ctx ends.
func (o *Orchestrator) RunRoomCleanup(ctx context.Context) {
	o.cleanupRooms(ctx)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cleanupRooms(ctx)
		}
	}
}

// cleanupRooms ends every active room with zero participants. Failures
// are logged and retried on the next pass.
func (o *Orchestrator) cleanupRooms(ctx context.Context) {
	if o.rooms == nil {
		return
	}
	rooms, err := o.rooms.ListActive(ctx)
	if err != nil {
		o.log.ErrorContext(ctx, "list active rooms", slog.Any("error", err))
		return
	}
	now := time.Now()
	for _, room := range rooms {
		if room.Participants > 0 {
			continue
		}
		if err := o.rooms.MarkEnded(ctx, room.ID, now); err != nil {
			o.log.ErrorContext(ctx, "mark room ended",
				slog.String("room", room.ID), slog.Any("error", err))
			continue
		}
		o.log.InfoContext(ctx, "ended abandoned room", slog.String("room", room.ID))
	}
}
