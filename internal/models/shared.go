package models

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yegors/diarscribe/pkg/logger"
)

// ErrClosed is returned by Acquire after Shutdown
var ErrClosed = errors.New("shared model handle is shut down")

// Loader creates the expensive value behind a Shared handle
type Loader[T any] func(ctx context.Context) (T, error)

// Closer releases a loaded value
type Closer[T any] func(T) error

// Shared holds one lazily loaded, reference-counted instance of a model collaborator.
// The value is loaded on the first Acquire and kept for the life of the process;
// only Shutdown closes it. Sequential and concurrent sessions share one instance.
type Shared[T any] struct {
	name   string
	load   Loader[T]
	close  Closer[T]
	logger *logger.Logger

	mu       sync.Mutex
	value    T
	loaded   bool
	refs     int
	loads    int
	shutdown bool
}

// NewShared creates a new shared handle. close may be nil.
func NewShared[T any](name string, load Loader[T], close Closer[T], log *logger.Logger) *Shared[T] {
	return &Shared[T]{
		name:   name,
		load:   load,
		close:  close,
		logger: log.Named("models").With(logger.String("model", name)),
	}
}

// Acquire returns the shared value, loading it if nobody holds it. Every successful
// Acquire must be paired with a Release.
func (s *Shared[T]) Acquire(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if s.shutdown {
		return zero, ErrClosed
	}
	if !s.loaded {
		v, err := s.load(ctx)
		if err != nil {
			return zero, fmt.Errorf("failed to load %s: %w", s.name, err)
		}
		s.value = v
		s.loaded = true
		s.loads++
		s.logger.Info("Loaded model collaborator")
	}
	s.refs++
	return s.value, nil
}

// Release drops one reference. The value stays loaded; a release after Shutdown
// closes it once the last holder is gone.
func (s *Shared[T]) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return fmt.Errorf("release of %s without matching acquire", s.name)
	}
	s.refs--
	if s.refs == 0 && s.shutdown {
		return s.unloadLocked()
	}
	return nil
}

// Shutdown refuses further acquires and closes the value. If sessions still hold
// it, the close happens on their last Release.
func (s *Shared[T]) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	if s.refs > 0 {
		s.logger.Warn("Shutting down while still referenced", logger.Int("refs", s.refs))
		return nil
	}
	return s.unloadLocked()
}

func (s *Shared[T]) unloadLocked() error {
	if !s.loaded {
		return nil
	}
	v := s.value
	var zero T
	s.value = zero
	s.loaded = false
	s.logger.Info("Released model collaborator")
	if s.close != nil {
		if err := s.close(v); err != nil {
			return fmt.Errorf("failed to close %s: %w", s.name, err)
		}
	}
	return nil
}

// Refs returns the current number of holders
func (s *Shared[T]) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Loads returns how many times the value has been loaded
func (s *Shared[T]) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}
