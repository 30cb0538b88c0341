package models

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yegors/diarscribe/pkg/logger"
)

type fakeModel struct {
	id int
}

func newCountingShared() (*Shared[*fakeModel], func() (int, int)) {
	var mu sync.Mutex
	loads, closes := 0, 0
	shared := NewShared("fake",
		func(context.Context) (*fakeModel, error) {
			mu.Lock()
			defer mu.Unlock()
			loads++
			return &fakeModel{id: loads}, nil
		},
		func(*fakeModel) error {
			mu.Lock()
			defer mu.Unlock()
			closes++
			return nil
		},
		logger.NewNop())
	return shared, func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return loads, closes
	}
}

func TestSharedConcurrentSessionsShareOneInstance(t *testing.T) {
	t.Parallel()

	shared, counts := newCountingShared()

	var wg sync.WaitGroup
	got := make(chan *fakeModel, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := shared.Acquire(context.Background())
			if err != nil {
				t.Errorf("unexpected acquire error: %v", err)
				return
			}
			got <- m
		}()
	}
	wg.Wait()
	close(got)

	first := <-got
	for m := range got {
		if m != first {
			t.Fatalf("expected every session to share one instance")
		}
	}
	if shared.Refs() != 8 || shared.Loads() != 1 {
		t.Fatalf("unexpected refs=%d loads=%d", shared.Refs(), shared.Loads())
	}

	for i := 0; i < 8; i++ {
		if err := shared.Release(); err != nil {
			t.Fatalf("unexpected release error: %v", err)
		}
	}
	if _, closes := counts(); closes != 0 {
		t.Fatalf("expected the model to stay loaded after the last release, got %d closes", closes)
	}
}

func TestSharedSequentialSessionsLoadOnce(t *testing.T) {
	t.Parallel()

	shared, counts := newCountingShared()

	var first *fakeModel
	for i := 0; i < 3; i++ {
		m, err := shared.Acquire(context.Background())
		if err != nil {
			t.Fatalf("unexpected acquire error: %v", err)
		}
		if first == nil {
			first = m
		} else if m != first {
			t.Fatalf("expected session %d to reuse the loaded instance", i+1)
		}
		if err := shared.Release(); err != nil {
			t.Fatalf("unexpected release error: %v", err)
		}
	}

	if shared.Loads() != 1 {
		t.Fatalf("expected one load across sessions, got %d", shared.Loads())
	}
	if _, closes := counts(); closes != 0 {
		t.Fatalf("unexpected close before shutdown: %d", closes)
	}

	if err := shared.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if loads, closes := counts(); loads != 1 || closes != 1 {
		t.Fatalf("unexpected loads=%d closes=%d after shutdown", loads, closes)
	}
}

func TestSharedShutdownWhileHeldClosesOnLastRelease(t *testing.T) {
	t.Parallel()

	shared, counts := newCountingShared()
	if _, err := shared.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if err := shared.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if _, closes := counts(); closes != 0 {
		t.Fatalf("closed while still referenced")
	}
	if err := shared.Release(); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if _, closes := counts(); closes != 1 {
		t.Fatalf("expected close on last release after shutdown, got %d", closes)
	}
}

func TestSharedReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()

	shared := NewShared("fake", func(context.Context) (int, error) { return 1, nil }, nil, logger.NewNop())
	if err := shared.Release(); err == nil {
		t.Fatalf("expected error for unmatched release")
	}
}

func TestSharedLoadErrorIsNotCached(t *testing.T) {
	t.Parallel()

	fail := true
	shared := NewShared("flaky", func(context.Context) (int, error) {
		if fail {
			return 0, errors.New("no credentials")
		}
		return 42, nil
	}, nil, logger.NewNop())

	if _, err := shared.Acquire(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if shared.Refs() != 0 {
		t.Fatalf("failed acquire must not hold a reference")
	}

	fail = false
	v, err := shared.Acquire(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("unexpected acquire result: %v %v", v, err)
	}
}

func TestSharedShutdownRefusesAcquire(t *testing.T) {
	t.Parallel()

	shared := NewShared("fake", func(context.Context) (int, error) { return 1, nil }, nil, logger.NewNop())
	if err := shared.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if _, err := shared.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
