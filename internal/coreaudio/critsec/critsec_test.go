package critsec

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockUnlock(t *testing.T) {
	s := New("test")
	s.Lock()
	assert.True(t, s.OwnedByCurrent())
	assert.NotPanics(t, s.AssertCurrentOwner)
	s.Unlock()
	assert.False(t, s.OwnedByCurrent())
}

func TestRelockByOwnerPanics(t *testing.T) {
	s := New("context")
	s.Lock()
	defer s.Unlock()

	assert.PanicsWithValue(t,
		"critsec context: goroutine "+formatID(goroutineID())+" locked a section it already owns",
		s.Lock)
}

func TestAssertCurrentOwnerFromOtherGoroutine(t *testing.T) {
	s := New("stream")
	s.Lock()
	defer s.Unlock()

	var panicked bool
	var wg sync.WaitGroup
	wg.Go(func() {
		defer func() { panicked = recover() != nil }()
		s.AssertCurrentOwner()
	})
	wg.Wait()
	assert.True(t, panicked)
}

func TestUnlockByOtherGoroutinePanics(t *testing.T) {
	s := New("stream")
	s.Lock()
	defer s.Unlock()

	var panicked bool
	var wg sync.WaitGroup
	wg.Go(func() {
		defer func() { panicked = recover() != nil }()
		s.Unlock()
	})
	wg.Wait()
	assert.True(t, panicked)
	assert.True(t, s.OwnedByCurrent())
}

func TestContention(t *testing.T) {
	s := New("counter")
	counter := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				s.Lock()
				counter++
				s.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 800, counter)
}

func TestGoroutineIDsDiffer(t *testing.T) {
	main := goroutineID()
	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, main, <-other)
	assert.NotZero(t, main)
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
