package dispatch

import (
	"time"

	"newsfan/internal/transport"
)

// Config controls the fan-out machinery.
//
// All durations come from Go duration strings in the config file.
type Config struct {
	Workers          int           // direct-channel fan-out workers
	RatePerSec       int           // direct-channel send rate (token bucket)
	RetryMax         int           // retries per direct recipient
	RetryBase        time.Duration // first retry delay
	RetryMaxDelay    time.Duration // retry delay cap
	RecipientTimeout time.Duration // per direct send attempt
	ChannelTimeout   time.Duration // per-channel budget inside Dispatch
	JoinTimeout      time.Duration // bounded wait for both channels
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.RecipientTimeout <= 0 {
		c.RecipientTimeout = 10 * time.Second
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 60 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 90 * time.Second
	}
}

// RecipientFailure is one isolated direct-channel delivery failure.
type RecipientFailure struct {
	SubscriberID int64  `json:"subscriber_id"`
	ChatID       int64  `json:"chat_id"`
	Error        string `json:"error"`
}

// ChannelResult reports one channel's outcome for one event.
type ChannelResult struct {
	Channel   transport.Channel  `json:"channel"`
	Attempted int                `json:"attempted"`
	Delivered int                `json:"delivered"`
	Failed    int                `json:"failed"`
	Error     string             `json:"error,omitempty"` // channel-wide failure
	Failures  []RecipientFailure `json:"failures,omitempty"`
}

// Result joins both channels' outcomes. One channel failing hard leaves the
// other's result intact.
type Result struct {
	Broadcast ChannelResult `json:"broadcast"`
	Direct    ChannelResult `json:"direct"`
	Took      time.Duration `json:"took"`
}

// failure lists are capped so a total outage doesn't balloon the result.
const maxReportedFailures = 200
