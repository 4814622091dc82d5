package session

import (
	"quillsync/internal/config"
	"quillsync/internal/docsync"
	"quillsync/internal/presence"
	"quillsync/internal/version"
)

// OptionsFromConfig maps the collab timing configuration onto the options
// of the composed components. Zero values fall through to each
// component's own defaults.
func OptionsFromConfig(c config.CollabConfig) Options {
	return Options{
		Presence: presence.Options{
			HeartbeatInterval: c.HeartbeatInterval,
			SweepInterval:     c.SweepInterval,
			PeerTimeout:       c.PeerTimeout,
			TypingExpiry:      c.TypingExpiry,
			CursorInterval:    c.CursorInterval,
		},
		Sync: docsync.Options{
			BroadcastDebounce: c.BroadcastDebounce,
			SaveDebounce:      c.SaveDebounce,
		},
		Snapshot: version.SchedulerOptions{
			Settle:   c.SnapshotSettle,
			Interval: c.SnapshotInterval,
		},
	}
}
