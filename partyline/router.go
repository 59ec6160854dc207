package partyline

import (
	"log/slog"

	"github.com/lmittmann/tint"
)

const globalMessagePrefix = "** Global Message: "

// ChannelRouter fans messages out to the chatters sharing a channel and
// records them in the channel's history log. Delivery is best-effort:
// a failed send to one chatter is logged and does not stop the rest of
// the fan-out.
type ChannelRouter struct {
	registry *ChatterRegistry
	history  *HistoryLog
	logger   *slog.Logger
}

func NewChannelRouter(
	registry *ChatterRegistry,
	history *HistoryLog,
	logger *slog.Logger,
) *ChannelRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelRouter{
		registry: registry,
		history:  history,
		logger:   logger.With(loggerNameKey, "router"),
	}
}

// Broadcast delivers message to every active chatter on the channel
// except the sender, then appends it to the channel log. The append
// happens exactly once, even when nobody was around to receive it.
func (r *ChannelRouter) Broadcast(
	message string,
	channel string,
	senderIdentity string,
) {
	for _, c := range r.registry.Snapshot() {
		if c.Identity == senderIdentity || !c.Active || c.Channel != channel {
			continue
		}
		if c.conn == nil {
			continue
		}
		if err := c.conn.Send(c.Identity, message); err != nil {
			r.logger.Error(
				"error relaying message",
				tint.Err(err),
				"chatter", c,
				"channel", channel,
			)
		}
	}

	if err := r.history.Append(channel, message); err != nil {
		r.logger.Error(
			"error logging message",
			tint.Err(err),
			"channel", channel,
		)
	}
}

// GlobalBroadcast sends a prefixed copy of message to every known
// chatter, regardless of their channel or active flag. Global messages
// are not written to any channel log.
func (r *ChannelRouter) GlobalBroadcast(message string) {
	msg := globalMessagePrefix + message
	for _, c := range r.registry.Snapshot() {
		if c.conn == nil {
			continue
		}
		if err := c.conn.Send(c.Identity, msg); err != nil {
			r.logger.Error(
				"error sending global message",
				tint.Err(err),
				"chatter", c,
			)
		}
	}
}
