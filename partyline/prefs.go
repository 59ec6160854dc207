package partyline

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var ErrSettingNotFound = errors.New("setting not found")

// usersFileHeader is the fixed leading comment written on every full
// rewrite of the preference file.
const usersFileHeader = "# File for saving user preferences. " +
	"DO NOT EDIT UNLESS YOU KNOW WHAT YOU'RE DOING."

// PreferenceStore persists each chatter's last channel as
// `identity|channel` lines. Lookups re-read the file every time; the
// whole file is rewritten from the registry snapshot on shutdown.
type PreferenceStore struct {
	path           string
	defaultChannel string
}

func NewPreferenceStore(path string) *PreferenceStore {
	return &PreferenceStore{path: path, defaultChannel: DefaultChannel}
}

// Channel returns the identity's persisted channel, or the default
// channel when the identity (or the whole file) is absent.
func (s *PreferenceStore) Channel(identity string) string {
	entries, err := readKeyValueFile(s.path)
	if err != nil {
		return s.defaultChannel
	}
	if ch, ok := entries[identity]; ok && ch != "" {
		return ch
	}
	return s.defaultChannel
}

// Save rewrites the preference file in full from the given
// identity → channel mapping.
func (s *PreferenceStore) Save(channels map[string]string) error {
	identities := make([]string, 0, len(channels))
	for identity := range channels {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	var b strings.Builder
	b.WriteString(usersFileHeader + "\n")
	for _, identity := range identities {
		fmt.Fprintf(&b, "%s|%s\n", identity, channels[identity])
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("error writing preference file: %w", err)
	}
	return nil
}

// SettingsStore reads `key|value` settings (bot display name,
// administrator identity). Like the channel directory, it re-reads the
// file on every lookup so edits apply without a restart.
type SettingsStore struct {
	path string
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Get returns the value for the given key, or ErrSettingNotFound.
func (s *SettingsStore) Get(key string) (string, error) {
	entries, err := readKeyValueFile(s.path)
	if err != nil {
		return "", fmt.Errorf("error reading settings: %w", err)
	}
	v, ok := entries[key]
	if !ok {
		return "", ErrSettingNotFound
	}
	return v, nil
}

// readKeyValueFile parses `key|value` lines, skipping `#` comments.
// Duplicate keys: last one wins.
func readKeyValueFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries := map[string]string{}
	for _, line := range strings.Split(
		strings.ReplaceAll(string(data), "\r\n", "\n"), "\n",
	) {
		if strings.HasPrefix(line, directoryCommentPrefix) {
			continue
		}
		key, value, ok := strings.Cut(line, directorySeparator)
		if !ok || key == "" {
			continue
		}
		entries[key] = value
	}
	return entries, nil
}
