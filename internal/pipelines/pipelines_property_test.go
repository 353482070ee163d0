//go:build property

package pipelines

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/skiff/internal/asset"
)

// TestDispatcherProperties validates ordering guarantees of Run.
func TestDispatcherProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("outputs are sorted by asset id regardless of completion order", prop.ForAll(
		func(delays []int, jobs int) bool {
			pipelines := make([]Pipeline, len(delays))
			for i, d := range delays {
				delay := time.Duration(d) * time.Millisecond
				pipelines[i] = &stubPipeline{id: len(delays) - 1 - i, spawn: func(ctx context.Context) error {
					time.Sleep(delay)
					return nil
				}}
			}

			fx := newFixture(t, nil)
			outputs, err := Run(context.Background(), fx.env, pipelines, jobs)
			if err != nil || len(outputs) != len(delays) {
				return false
			}

			return sort.SliceIsSorted(outputs, func(i, j int) bool {
				return outputs[i].AssetID() < outputs[j].AssetID()
			})
		},
		gen.SliceOfN(8, gen.IntRange(0, 5)),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

// TestHashedNameProperties validates content hashing of output names.
func TestHashedNameProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("hashed names are deterministic", prop.ForAll(
		func(content string) bool {
			a := asset.HashedName("app.js", []byte(content), true)
			b := asset.HashedName("app.js", []byte(content), true)
			return a == b
		},
		gen.AnyString(),
	))

	properties.Property("differing content yields differing names", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			return asset.HashedName("app.js", []byte(a), true) != asset.HashedName("app.js", []byte(b), true)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("disabled hashing keeps the name", prop.ForAll(
		func(content string) bool {
			return asset.HashedName("style.css", []byte(content), false) == "style.css"
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
