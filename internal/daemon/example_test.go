package daemon_test

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/notemirror/notemirror/internal/daemon"
)

// Example_basicUsage demonstrates a daemon that runs every minute and
// whenever a trigger file is touched.
// Note: This is for documentation only and won't run as a test.
func Example_basicUsage() {
	trigger := os.TempDir() + "/notemirror-example.trigger"

	run := func(ctx context.Context, reason daemon.Reason) error {
		log.Printf("sync requested: %s", reason)
		return nil
	}

	d, err := daemon.NewWithConfig(run, &daemon.Config{
		Interval:         time.Minute,
		RunOnStart:       true,
		TriggerFiles:     []string{trigger},
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.Ltime),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		if err := os.WriteFile(trigger, []byte("now"), 0644); err != nil {
			log.Print(err)
		}
	}()

	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
	log.Printf("runs: %d", d.Status().Runs)
}

// Example_manualTrigger demonstrates requesting runs from other code, e.g.
// an HTTP handler.
func Example_manualTrigger() {
	d, err := daemon.New(func(ctx context.Context, reason daemon.Reason) error {
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		d.Trigger(daemon.ReasonManual)
		d.Trigger(daemon.ReasonManual) // merged with the pending request
		time.Sleep(time.Second)
		cancel()
	}()

	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
