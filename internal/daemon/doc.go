// Package daemon keeps the local OneNote mirror fresh in the background.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - FileWatcher: fsnotify based monitoring of trigger files
//   - Daemon: schedules sync runs on an interval, on trigger-file events and
//     on explicit requests, and runs them one at a time
//
// # Triggers
//
// A run is requested by
//
//   - the interval ticker (Config.Interval)
//   - a create or write of any Config.TriggerFiles path, debounced by
//     Config.DebounceInterval so a burst of writes starts a single run
//   - Daemon.Trigger, used by the dashboard's "sync now" endpoint
//
// Requests that arrive while a run is in progress are coalesced into one
// follow-up run. A failed run is logged and recorded in Status; the daemon
// keeps going and retries on the next trigger.
//
// # Usage
//
//	d, err := daemon.New(func(ctx context.Context, reason daemon.Reason) error {
//	    _, err := syncer.Run(ctx, store, sync.RunOptions{})
//	    return err
//	}, daemon.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// Touching the trigger file from another program (for example an Alfred
// workflow action) starts a sync:
//
//	touch ~/.notemirror/sync.trigger
package daemon
