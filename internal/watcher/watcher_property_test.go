//go:build property

package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/skiff/internal/shutdown"
)

// TestCoordinatorProperties validates debouncing and ignore-set filtering.
func TestCoordinatorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("a burst of source events triggers exactly one build", prop.ForAll(
		func(burst, ignored int) bool {
			root := t.TempDir()
			dist := filepath.Join(root, "dist")

			src := newFakeSource()
			b := &fakeBuilder{written: []string{dist}}
			c := NewCoordinator(b, src, WithDebounce(30*time.Millisecond))

			sig := shutdown.New()
			done := make(chan error, 1)
			go func() { done <- c.Run(context.Background(), sig) }()
			defer func() { sig.Trigger(); <-done }()

			deadline := time.Now().Add(2 * time.Second)
			for b.Calls() < 1 && time.Now().Before(deadline) {
				time.Sleep(2 * time.Millisecond)
			}

			for i := 0; i < ignored; i++ {
				src.send(filepath.Join(dist, fmt.Sprintf("out-%d.js", i)))
			}
			for i := 0; i < burst; i++ {
				src.send(filepath.Join(root, "src", "app.css"))
			}

			for b.Calls() < 2 && time.Now().Before(deadline.Add(2*time.Second)) {
				time.Sleep(2 * time.Millisecond)
			}
			time.Sleep(120 * time.Millisecond)

			stats := c.Stats()
			return b.Calls() == 2 && stats.Ignored == ignored && stats.Accepted == burst
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
