package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	skifferrors "github.com/conneroisu/skiff/internal/errors"
	"github.com/conneroisu/skiff/internal/logging"
)

// staging is the directory a cycle writes into before it is promoted to
// dist in one rename.
type staging struct {
	dir     string
	dist    string
	sources []string
	logger  logging.Logger
	active  bool
}

// newStaging returns the staging area for dist. sources are directories
// that neither dir nor dist may be or contain.
func newStaging(dir, dist string, logger logging.Logger, sources ...string) *staging {
	return &staging{dir: dir, dist: dist, sources: sources, logger: logger}
}

func (s *staging) prev() string { return s.dist + ".prev" }

// begin removes leftovers of an earlier cycle and creates an empty staging
// directory.
func (s *staging) begin(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir, "failed to clear staging directory", err).WithPath(s.dir)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir, "failed to create staging directory", err).WithPath(s.dir)
	}
	s.active = true
	s.logger.Debug(ctx, "Initialized staging directory", "staging", s.dir, "dist", s.dist)

	return nil
}

// check rejects layouts where clearing staging or replacing dist would
// remove files it does not own.
func (s *staging) check() error {
	switch {
	case s.dir == s.dist:
		return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir,
			"staging directory must differ from dist", nil).WithPath(s.dir)
	case within(s.dir, s.dist):
		return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir,
			"staging directory must not be inside dist", nil).WithPath(s.dir)
	case within(s.dist, s.dir):
		return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir,
			"dist must not be inside the staging directory", nil).WithPath(s.dist)
	}
	for _, src := range s.sources {
		if src == "" {
			continue
		}
		if s.dist == src || within(src, s.dist) {
			return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir,
				"dist must not be or contain source directory "+src, nil).WithPath(s.dist)
		}
		if s.dir == src || within(src, s.dir) {
			return skifferrors.NewStagingError(skifferrors.ErrCodeStageDir,
				"staging directory must not be or contain source directory "+src, nil).WithPath(s.dir)
		}
	}

	return nil
}

// abort discards the staging directory after a failed cycle.
func (s *staging) abort(ctx context.Context) {
	if !s.active {
		return
	}
	s.active = false
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn(ctx, err, "Failed to remove staging directory after abort", "staging", s.dir)
		return
	}
	s.logger.Debug(ctx, "Removed staging directory after abort", "staging", s.dir)
}

// publish promotes staging to dist: dist moves to dist.prev, staging is
// renamed to dist and the backup is removed. If the second rename fails the
// backup is moved back so dist keeps its last published state.
func (s *staging) publish(ctx context.Context) error {
	if !s.active {
		return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "no staging directory initialized", nil)
	}
	if _, err := os.Stat(s.dir); err != nil {
		return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "staging directory missing", err).WithPath(s.dir)
	}

	prev := s.prev()
	if err := os.RemoveAll(prev); err != nil {
		return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "failed to remove previous backup", err).WithPath(prev)
	}
	if err := os.MkdirAll(filepath.Dir(s.dist), 0o755); err != nil {
		return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "failed to create dist parent", err).WithPath(s.dist)
	}

	backedUp := false
	if _, err := os.Stat(s.dist); err == nil {
		if err := os.Rename(s.dist, prev); err != nil {
			return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "failed to back up dist", err).WithPath(s.dist)
		}
		backedUp = true
	}
	if err := os.Rename(s.dir, s.dist); err != nil {
		if backedUp {
			if rerr := os.Rename(prev, s.dist); rerr != nil {
				s.logger.Error(ctx, rerr, "Failed to restore dist from backup", "backup", prev)
			}
		}

		return skifferrors.NewStagingError(skifferrors.ErrCodePublish, "failed to promote staging directory", err).WithPath(s.dir)
	}
	s.active = false

	if backedUp {
		if err := os.RemoveAll(prev); err != nil {
			s.logger.Warn(ctx, err, "Failed to remove previous backup", "backup", prev)
		}
	}
	s.logger.Debug(ctx, "Promoted staging directory", "dist", s.dist)

	return nil
}

// within reports whether path lies inside dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
