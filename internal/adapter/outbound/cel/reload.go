package cel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
)

// Reloader polls a policy file's modification time and swaps newly parsed,
// schema-validated bundles into an Engine. It uses polling rather than a
// kernel file-watch so hot reload keeps working when the config source is
// an atomically-swapped symlink (the common ConfigMap mount shape).
type Reloader struct {
	engine   *Engine
	path     string
	interval time.Duration
	logger   *slog.Logger

	// OnFailure is called with the category of any load/validate error
	// encountered during a poll cycle, for metrics labelling. May be nil.
	OnFailure func(category policy.ErrorCategory)
	// OnSuccess is called after every successful swap. May be nil.
	OnSuccess func()

	lastModTime time.Time
}

// NewReloader builds a Reloader for the given file path. If path is empty
// the reloader is inert: Run returns immediately (there is nothing to poll
// when the active bundle came from an environment blob or the embedded
// default — both are fixed for the process lifetime).
func NewReloader(engine *Engine, path string, interval time.Duration, logger *slog.Logger) *Reloader {
	return &Reloader{engine: engine, path: path, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. Safe to run as a single long-lived
// background goroutine; it never mutates engine state outside Engine.Swap,
// which is itself lock-free.
func (r *Reloader) Run(ctx context.Context) {
	if r.path == "" {
		return
	}
	if fi, err := os.Stat(r.path); err == nil {
		r.lastModTime = fi.ModTime()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce()
		}
	}
}

func (r *Reloader) pollOnce() {
	fi, err := os.Stat(r.path)
	if err != nil {
		r.fail(policy.CategoryFileNotFound, err)
		return
	}
	if !fi.ModTime().After(r.lastModTime) {
		return
	}

	candidate, err := LoadFromFile(r.path)
	if err != nil {
		r.failErr(err)
		return
	}
	if err := r.engine.Swap(candidate); err != nil {
		r.failErr(err)
		return
	}

	r.lastModTime = fi.ModTime()
	if r.logger != nil {
		r.logger.Info("policy bundle reloaded", "path", r.path, "rule_count", len(candidate.Rules))
	}
	if r.OnSuccess != nil {
		r.OnSuccess()
	}
}

func (r *Reloader) failErr(err error) {
	var le *policy.LoadError
	category := policy.CategoryParseError
	if errors.As(err, &le) {
		category = le.Category
	}
	r.fail(category, err)
}

func (r *Reloader) fail(category policy.ErrorCategory, err error) {
	if r.logger != nil {
		r.logger.Warn("policy reload failed; previous bundle remains active", "path", r.path, "category", category, "error", err)
	}
	if r.OnFailure != nil {
		r.OnFailure(category)
	}
}
