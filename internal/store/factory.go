package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Builder constructs and fully initializes a Backend for one family,
// verifying connectivity before returning. The factory never publishes a
// backend whose builder failed.
type Builder interface {
	Kind() Kind
	Build(ctx context.Context) (*Backend, error)
}

type builderFunc struct {
	kind  Kind
	build func(context.Context) (*Backend, error)
}

func (b builderFunc) Kind() Kind                                 { return b.kind }
func (b builderFunc) Build(ctx context.Context) (*Backend, error) { return b.build(ctx) }

// NewBuilder adapts a constructor func into a Builder.
func NewBuilder(kind Kind, build func(context.Context) (*Backend, error)) Builder {
	return builderFunc{kind: kind, build: build}
}

// Factory owns the active Backend behind an atomically-swappable reference.
// Reads are lock-free; Switch is serialized. Switching never migrates data:
// entities written under one backend are only retrievable while that backend
// (or a reconnect to the same physical store) is active.
type Factory struct {
	builders map[Kind]Builder
	active   atomic.Pointer[Backend]

	switchMu sync.Mutex
	logger   *slog.Logger
}

// NewFactory registers the given builders and activates the initial kind.
func NewFactory(ctx context.Context, initial Kind, builders ...Builder) (*Factory, error) {
	f := &Factory{
		builders: make(map[Kind]Builder, len(builders)),
		logger:   slog.Default(),
	}
	for _, b := range builders {
		f.builders[b.Kind()] = b
	}

	b, ok := f.builders[initial]
	if !ok {
		return nil, fmt.Errorf("no builder registered for backend %q", initial)
	}
	backend, err := b.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", initial, err)
	}
	f.active.Store(backend)
	return f, nil
}

// Current returns the kind of the active backend.
func (f *Factory) Current() Kind {
	return f.active.Load().Kind
}

// Acquire returns the active backend and a release func that must be called
// when the operation completes. A backend being drained by a concurrent
// Switch is retried against the freshly published one.
func (f *Factory) Acquire() (*Backend, func(), error) {
	for {
		b := f.active.Load()
		if err := b.acquire(); err == nil {
			return b, b.release, nil
		}
		// Lost the race with Switch; the pointer has (or is about to
		// be) replaced. Re-read it.
		if f.active.Load() == b {
			return nil, nil, ErrClosed
		}
	}
}

// Switch activates the backend of the given kind: build and verify the new
// backend first, atomically publish it, then drain and close the previous
// one. On build failure the previous backend stays active and untouched.
func (f *Factory) Switch(ctx context.Context, kind Kind) error {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()

	old := f.active.Load()
	if old.Kind == kind {
		return nil
	}

	b, ok := f.builders[kind]
	if !ok {
		return fmt.Errorf("no builder registered for backend %q", kind)
	}
	next, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("build %s backend: %w", kind, err)
	}

	f.active.Store(next)
	if err := old.drainAndClose(); err != nil {
		f.logger.Warn("closing previous backend", "kind", string(old.Kind), "error", err)
	}
	f.logger.Info("backend switched", "from", string(old.Kind), "to", string(kind))
	return nil
}

// Close drains and closes the active backend.
func (f *Factory) Close() error {
	f.switchMu.Lock()
	defer f.switchMu.Unlock()
	return f.active.Load().drainAndClose()
}
