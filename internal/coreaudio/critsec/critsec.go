// Package critsec provides a mutex that knows which goroutine holds it.
//
// A second Lock from the owning goroutine panics instead of deadlocking, and
// AssertCurrentOwner checks ownership without touching the lock itself.
package critsec

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Section is an owned critical section. The zero value is unlocked.
type Section struct {
	mu    sync.Mutex
	owner atomic.Uint64 // goroutine id of the holder, 0 when unlocked
	name  string
}

// New returns a Section with a name used in panic messages.
func New(name string) *Section {
	return &Section{name: name}
}

// Lock acquires the section. Relocking from the owning goroutine panics.
func (s *Section) Lock() {
	id := goroutineID()
	if s.owner.Load() == id {
		panic(fmt.Sprintf("critsec %s: goroutine %d locked a section it already owns", s.name, id))
	}
	s.mu.Lock()
	s.owner.Store(id)
}

// Unlock releases the section. Unlocking from another goroutine panics.
func (s *Section) Unlock() {
	id := goroutineID()
	if owner := s.owner.Load(); owner != id {
		panic(fmt.Sprintf("critsec %s: goroutine %d unlocked a section owned by %d", s.name, id, owner))
	}
	s.owner.Store(0)
	s.mu.Unlock()
}

// AssertCurrentOwner panics unless the calling goroutine holds the section.
func (s *Section) AssertCurrentOwner() {
	if !s.OwnedByCurrent() {
		panic(fmt.Sprintf("critsec %s: not owned by goroutine %d", s.name, goroutineID()))
	}
}

// OwnedByCurrent reports whether the calling goroutine holds the section.
func (s *Section) OwnedByCurrent() bool {
	return s.owner.Load() == goroutineID()
}

// CurrentGoroutineID returns the id of the calling goroutine.
func CurrentGoroutineID() uint64 {
	return goroutineID()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the first line of the current stack,
// "goroutine 42 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("critsec: cannot parse goroutine id: %v", err))
	}
	return id
}
