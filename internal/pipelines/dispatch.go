package pipelines

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/skiff/internal/dom"
	"github.com/conneroisu/skiff/internal/metrics"
)

// Construct scans doc for declarations the registry recognizes and builds
// one pipeline per declaration, in ID order. The first construction error
// aborts the scan and nothing is returned. doc is not mutated: declarations
// declined by every constructor of their role keep their ID until the IDs
// are stripped after finalize.
func Construct(env *Env, reg *Registry, doc *dom.Document, manifestDir string) ([]Pipeline, error) {
	tags := doc.Assets(reg.Has)
	pipelines := make([]Pipeline, 0, len(tags))

	for _, tag := range tags {
		in := Input{
			ManifestDir: manifestDir,
			Tag:         tag.Source,
			Element:     tag.Element,
			Role:        tag.Role,
			Attrs:       tag.Attrs,
			ID:          tag.ID,
		}

		p, err := construct(env, reg.Lookup(tag.Role), in)
		if err != nil {
			return nil, err
		}
		if p == nil {
			env.logger().Debug(context.Background(), "Asset declaration declined",
				"id", in.ID, "role", in.Role, "tag", in.Tag)
			continue
		}
		pipelines = append(pipelines, p)
	}

	return pipelines, nil
}

func construct(env *Env, chain []Constructor, in Input) (Pipeline, error) {
	for _, c := range chain {
		p, fwd, err := c(env, in)
		if err != nil {
			return nil, annotate(err, in, wrapConstruction)
		}
		if p != nil {
			return p, nil
		}
		if fwd != nil {
			in = *fwd
		}
	}

	return nil, nil
}

// Run spawns every pipeline concurrently, at most jobs at a time when jobs
// is positive. The first failure cancels the context shared by the others
// and is returned. On success the outputs are sorted ascending by asset ID.
func Run(ctx context.Context, env *Env, pipelines []Pipeline, jobs int) ([]Output, error) {
	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}

	outputs := make([]Output, len(pipelines))
	for i, p := range pipelines {
		g.Go(func() error {
			start := time.Now()
			out, err := p.Spawn(gctx)
			env.recorder().ObservePipeline(p.Kind(), outcomeOf(err), time.Since(start))
			if err != nil {
				return annotate(err, Input{ID: p.ID()}, wrapPipeline)
			}
			outputs[i] = out

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(outputs, func(a, b int) bool {
		return outputs[a].AssetID() < outputs[b].AssetID()
	})

	return outputs, nil
}

// Dispatch constructs and runs every pipeline declared in doc.
func Dispatch(ctx context.Context, env *Env, reg *Registry, doc *dom.Document, manifestDir string) ([]Output, error) {
	pipelines, err := Construct(env, reg, doc, manifestDir)
	if err != nil {
		return nil, err
	}

	jobs := 0
	if env.Config != nil {
		jobs = env.Config.Build.Jobs
	}

	return Run(ctx, env, pipelines, jobs)
}

func outcomeOf(err error) metrics.Outcome {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}
