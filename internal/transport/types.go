package transport

import (
	"context"

	"newsfan/internal/event"
)

// Channel names one of the two independent delivery channels.
type Channel string

const (
	ChannelBroadcast Channel = "broadcast"
	ChannelDirect    Channel = "direct"
)

// DirectTarget addresses one subscriber on the direct-message channel.
type DirectTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// DirectSender delivers one rendered message to one recipient.
// Failures are per-recipient; the dispatcher isolates them.
type DirectSender interface {
	SendDirect(ctx context.Context, to DirectTarget, text string, opt *SendOptions) error
}

// BroadcastSender pushes an event to the given connected sessions
// (topic-style, no per-recipient addressing). It reports how many sessions
// actually received the event.
type BroadcastSender interface {
	Publish(ctx context.Context, ev event.Event, sessionIDs []string) (delivered int, err error)
}
