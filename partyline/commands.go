package partyline

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/samber/lo"
)

const (
	commandPrefix = "/"

	// settingAdminID is the settings key holding the administrator
	// identity (the only identity allowed to use /g)
	settingAdminID = "adminid"

	inGameMarker = " [G] "

	noticeChatEnabled   = "** Notice: Chat enabled."
	noticeChatDisabled  = "** Notice: Chat disabled."
	noticeNotAChannel   = "** Notice: Error, not a channel."
	noticeUnauthorized  = "** Notice: Unauthorized to join this channel."
	noticeNoChannel     = "** Notice: No channel specified."
	noticeHistoryLimit  = "** Error, maximum allowed history is 20 lines."
	noticeHistoryCount  = "** Error, how many messages do you want?"
	noticeInvalidNumber = "** Error, invalid number."
	noticeNoHistory     = "** Error, no history for this channel yet."
)

var helpLines = []string{
	"** Commands are: ",
	"** /join (or /j) - Changes what channel you are on.",
	"** /on | /off (or just /o) - Toggles between receiving messages and ignoring messages",
	"** /status (or /s) - Gives you information about what channel you're in, and whether you are receiving messages or not.",
	"** /list (or /l) - Lists all the official channels.",
	"** /help - Gives you this list of commands.",
	"** /history i - Gives you the last i messages sent in the channel.",
}

// CommandInterpreter parses slash commands and plain chat from inbound
// messages and drives the registry, directory, history log and router
// accordingly. Dispatch is a prefix match on the leading letters of the
// command token, case-sensitive, first match wins, in a fixed order:
// o, j, s, l, he, g, hi. Anything else is silently ignored.
type CommandInterpreter struct {
	registry  *ChatterRegistry
	directory *ChannelDirectory
	history   *HistoryLog
	router    *ChannelRouter
	settings  *SettingsStore
	logger    *slog.Logger
}

func NewCommandInterpreter(
	registry *ChatterRegistry,
	directory *ChannelDirectory,
	history *HistoryLog,
	router *ChannelRouter,
	settings *SettingsStore,
	logger *slog.Logger,
) *CommandInterpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandInterpreter{
		registry:  registry,
		directory: directory,
		history:   history,
		router:    router,
		settings:  settings,
		logger:    logger.With(loggerNameKey, "commands"),
	}
}

// HandleMessage processes one inbound chat message from the given
// sender, arriving on the given connection. Command replies go back to
// the sender through that same connection; plain chat is relayed to the
// sender's channel.
func (ci *CommandInterpreter) HandleMessage(
	conn *Connection,
	sender string,
	text string,
) {
	if !strings.HasPrefix(text, commandPrefix) {
		ci.relayChat(conn, sender, text)
		return
	}

	command := strings.TrimLeft(text, commandPrefix)
	switch {
	case strings.HasPrefix(command, "o"):
		ci.toggle(conn, sender)
	case strings.HasPrefix(command, "j"):
		ci.join(conn, sender, command)
	case strings.HasPrefix(command, "s"):
		ci.sendStatus(conn, sender)
	case strings.HasPrefix(command, "l"):
		ci.listChannels(conn, sender)
	case strings.HasPrefix(command, "he"):
		ci.help(conn, sender)
	case strings.HasPrefix(command, "g"):
		ci.global(conn, sender, text)
	case strings.HasPrefix(command, "hi"):
		ci.sendHistory(conn, sender, command)
	default:
		ci.logger.Debug("unrecognized command", "sender", sender, "text", text)
	}
}

// reply sends a single response line back to the requesting identity.
func (ci *CommandInterpreter) reply(conn *Connection, sender string, line string) {
	if err := conn.Send(sender, line); err != nil {
		ci.logger.Error("error sending reply", tint.Err(err), "sender", sender)
	}
}

// relayChat fans a plain (non-command) message out to the sender's
// channel. Inactive senders produce no action at all; messages from
// identities the registry doesn't know yet are dropped.
func (ci *CommandInterpreter) relayChat(conn *Connection, sender string, text string) {
	chatter, err := ci.registry.Get(sender)
	if err != nil {
		ci.logger.Warn("chat from unknown identity", "sender", sender)
		return
	}
	if !chatter.Active {
		return
	}

	marker := ""
	if conn.transport.CurrentActivity(sender) != "" {
		marker = inGameMarker
	}
	name := conn.transport.DisplayName(sender)
	ci.router.Broadcast(name+marker+": "+text, chatter.Channel, sender)
}

func (ci *CommandInterpreter) toggle(conn *Connection, sender string) {
	active, err := ci.registry.Toggle(sender)
	if err != nil {
		ci.logger.Error("error toggling chatter", tint.Err(err), "sender", sender)
		return
	}
	if active {
		ci.reply(conn, sender, noticeChatEnabled)
	} else {
		ci.reply(conn, sender, noticeChatDisabled)
	}
}

func (ci *CommandInterpreter) join(conn *Connection, sender string, command string) {
	args := strings.Fields(command)
	if len(args) < 2 {
		ci.reply(conn, sender, noticeNoChannel)
		return
	}
	target := args[1]

	rule, err := ci.directory.Resolve(target)
	if err != nil {
		if !errors.Is(err, ErrChannelNotFound) {
			ci.logger.Error("error resolving channel", tint.Err(err), "channel", target)
		}
		ci.reply(conn, sender, noticeNotAChannel)
		return
	}
	if !rule.Authorizes(sender) {
		ci.reply(conn, sender, noticeUnauthorized)
		return
	}

	chatter, err := ci.registry.Get(sender)
	if err != nil {
		ci.logger.Error("join from unknown identity", tint.Err(err), "sender", sender)
		return
	}

	name := conn.transport.DisplayName(sender)
	ci.router.Broadcast(
		fmt.Sprintf("** %s is leaving this channel.", name),
		chatter.Channel,
		sender,
	)
	ci.router.Broadcast(
		fmt.Sprintf("** %s has joined the channel.", name),
		target,
		sender,
	)
	if err = ci.registry.SetChannel(sender, target); err != nil {
		ci.logger.Error("error switching channel", tint.Err(err), "sender", sender)
		return
	}
	ci.reply(conn, sender, "** Notice: Switched to channel "+target)
	ci.sendStatus(conn, sender)
}

// sendStatus replies with the sender's channel, delivery state, and the
// display names of everyone sharing the channel who isn't offline
// (presence queried live through each chatter's owning connection).
func (ci *CommandInterpreter) sendStatus(conn *Connection, sender string) {
	chatter, err := ci.registry.Get(sender)
	if err != nil {
		ci.logger.Error("status for unknown identity", tint.Err(err), "sender", sender)
		return
	}

	ci.reply(conn, sender, fmt.Sprintf(
		"** You are currently in the %s channel.", chatter.Channel,
	))
	if chatter.Active {
		ci.reply(conn, sender, "** You are set to receive messages.")
	} else {
		ci.reply(conn, sender, "** You are set to ignore messages.")
	}

	people := lo.FilterMap(
		ci.registry.Snapshot(),
		func(c Chatter, _ int) (string, bool) {
			if c.Channel != chatter.Channel || c.conn == nil {
				return "", false
			}
			if c.conn.transport.PresenceState(c.Identity) == PresenceOffline {
				return "", false
			}
			return fmt.Sprintf(
				"%s (%s)", c.conn.transport.DisplayName(c.Identity), c.Identity,
			), true
		},
	)
	ci.reply(conn, sender,
		"** Currently in the channel is: "+strings.Join(people, ", "),
	)
}

func (ci *CommandInterpreter) listChannels(conn *Connection, sender string) {
	names, err := ci.directory.List()
	if err != nil {
		ci.logger.Error("error listing channels", tint.Err(err))
		return
	}
	ci.reply(conn, sender, "** Official channels are: "+strings.Join(names, ", "))
}

func (ci *CommandInterpreter) help(conn *Connection, sender string) {
	for _, line := range helpLines {
		ci.reply(conn, sender, line)
	}
}

// global broadcasts to every known chatter. Only the configured
// administrator identity may use it; anyone else, and requests with an
// empty remainder, are dropped without a reply.
func (ci *CommandInterpreter) global(conn *Connection, sender string, text string) {
	if !ci.isAdmin(sender) {
		ci.logger.Warn("global broadcast from non-admin", "sender", sender)
		return
	}
	_, rest, ok := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	if !ok || rest == "" {
		return
	}
	ci.router.GlobalBroadcast(rest)
}

// isAdmin compares identities numerically against the adminid setting.
func (ci *CommandInterpreter) isAdmin(identity string) bool {
	adminID, err := ci.settings.Get(settingAdminID)
	if err != nil {
		if !errors.Is(err, ErrSettingNotFound) {
			ci.logger.Error("error reading admin identity", tint.Err(err))
		}
		return false
	}
	admin, err := strconv.ParseUint(adminID, 10, 64)
	if err != nil {
		return false
	}
	id, err := strconv.ParseUint(identity, 10, 64)
	if err != nil {
		return false
	}
	return id == admin
}

func (ci *CommandInterpreter) sendHistory(conn *Connection, sender string, command string) {
	args := strings.Fields(command)
	if len(args) < 2 {
		ci.reply(conn, sender, noticeHistoryCount)
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		ci.reply(conn, sender, noticeInvalidNumber)
		return
	}

	chatter, err := ci.registry.Get(sender)
	if err != nil {
		ci.logger.Error("history for unknown identity", tint.Err(err), "sender", sender)
		return
	}

	lines, err := ci.history.Recent(chatter.Channel, n)
	switch {
	case errors.Is(err, ErrHistoryLimit):
		ci.reply(conn, sender, noticeHistoryLimit)
	case errors.Is(err, ErrLogNotFound):
		ci.reply(conn, sender, noticeNoHistory)
	case err != nil:
		ci.logger.Error("error reading history", tint.Err(err), "channel", chatter.Channel)
	default:
		for _, line := range lines {
			ci.reply(conn, sender, "** "+line)
		}
	}
}
