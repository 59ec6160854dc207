package partyline

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

var ErrChannelNotFound = errors.New("channel not found")

const (
	directoryCommentPrefix = "#"
	directorySeparator     = "|"
	channelSpecOpen        = "free"
)

// ChannelRule is a channel's join policy: open to anyone, or restricted
// to an identity allowlist.
type ChannelRule struct {
	Open      bool
	Allowlist []string
}

// Authorizes reports whether the given identity may join the channel.
func (r ChannelRule) Authorizes(identity string) bool {
	if r.Open {
		return true
	}
	return slices.Contains(r.Allowlist, identity)
}

// ChannelDirectory resolves channel names to join rules from a
// line-oriented file of `name|spec` entries, where spec is either
// "free" or a comma-separated identity allowlist. The file is re-read
// on every lookup so edits take effect without a restart.
type ChannelDirectory struct {
	path string
}

func NewChannelDirectory(path string) *ChannelDirectory {
	return &ChannelDirectory{path: path}
}

// Resolve returns the rule for the given channel name, or
// ErrChannelNotFound. Duplicate entries: the last one in the file wins.
func (d *ChannelDirectory) Resolve(name string) (ChannelRule, error) {
	lines, err := d.readLines()
	if err != nil {
		return ChannelRule{}, err
	}

	var rule ChannelRule
	found := false
	for _, line := range lines {
		entry, spec, ok := splitDirectoryLine(line)
		if !ok || entry != name {
			continue
		}
		found = true
		if spec == channelSpecOpen {
			rule = ChannelRule{Open: true}
		} else {
			rule = ChannelRule{Allowlist: strings.Split(spec, ",")}
		}
	}
	if !found {
		return ChannelRule{}, ErrChannelNotFound
	}
	return rule, nil
}

// List returns the channel names in file order.
func (d *ChannelDirectory) List() ([]string, error) {
	lines, err := d.readLines()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range lines {
		if name, _, ok := splitDirectoryLine(line); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (d *ChannelDirectory) readLines() ([]string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("error reading channel directory: %w", err)
	}
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
}

func splitDirectoryLine(line string) (name string, spec string, ok bool) {
	if strings.HasPrefix(line, directoryCommentPrefix) {
		return "", "", false
	}
	name, spec, ok = strings.Cut(line, directorySeparator)
	if !ok || name == "" {
		return "", "", false
	}
	return name, spec, true
}
