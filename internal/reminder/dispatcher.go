package reminder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/expo"
	"github.com/lalithlochan/verdant/internal/metrics"
)

// DispatchedTicket is a provider ticket together with the destination and
// user of the message that produced it.
type DispatchedTicket struct {
	expo.Ticket
	Destination string
	UserID      string
}

// Dispatcher fans notifications out to destinations and sends them in
// provider-sized chunks, one chunk at a time.
type Dispatcher struct {
	provider PushProvider
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(provider PushProvider, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{provider: provider, logger: logger}
}

// Dispatch sends one message per destination of every group and returns the
// tickets of every chunk that went through. A failed chunk is logged and
// contributes no tickets; the remaining chunks are still sent.
func (d *Dispatcher) Dispatch(ctx context.Context, groups []*DueGroup, notifications map[string]Notification) []DispatchedTicket {
	var (
		messages []expo.Message
		targets  []DispatchedTicket
	)
	for _, g := range groups {
		n, ok := notifications[g.User.ID]
		if !ok {
			continue
		}
		for _, dest := range g.Destinations {
			messages = append(messages, expo.Message{
				To:       dest,
				Title:    n.Title,
				Body:     n.Body,
				Data:     n.Data,
				Sound:    "default",
				Priority: "high",
			})
			targets = append(targets, DispatchedTicket{Destination: dest, UserID: g.User.ID})
		}
	}
	if len(messages) == 0 {
		return nil
	}

	chunks := d.provider.ChunkMessages(messages)
	tickets := make([]DispatchedTicket, 0, len(messages))

	offset := 0
	for i, chunk := range chunks {
		if offset+len(chunk) > len(targets) {
			d.logger.Error("chunker returned more messages than it was given, dropping the rest",
				zap.Int("chunk", i),
				zap.Int("messages", len(messages)),
			)
			metrics.RecordStageFailure(string(StageDispatching))
			break
		}
		pairs := targets[offset : offset+len(chunk)]
		offset += len(chunk)

		got, err := d.provider.Send(ctx, chunk)
		if err == nil && len(got) != len(chunk) {
			err = fmt.Errorf("provider returned %d tickets for %d messages", len(got), len(chunk))
		}
		if err != nil {
			d.logger.Error("push chunk failed, skipping",
				zap.Int("chunk", i),
				zap.Int("chunks", len(chunks)),
				zap.Int("size", len(chunk)),
				zap.Strings("users", distinctUsers(pairs)),
				zap.Error(err),
			)
			metrics.RecordStageFailure(string(StageDispatching))
			continue
		}

		for j, t := range got {
			pair := pairs[j]
			pair.Ticket = t
			tickets = append(tickets, pair)
		}
	}

	d.logger.Debug("push dispatch finished",
		zap.Int("messages", len(messages)),
		zap.Int("chunks", len(chunks)),
		zap.Int("tickets", len(tickets)),
	)

	return tickets
}

func distinctUsers(pairs []DispatchedTicket) []string {
	seen := make(map[string]struct{}, len(pairs))
	var users []string
	for _, p := range pairs {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		users = append(users, p.UserID)
	}
	return users
}
