package cbqn

import (
	"sync"

	"github.com/petermattis/goid"
)

// reentrantMutex is a mutex the holding goroutine may lock again.
// CBQN runs bound host functions on the thread that called into it, which
// in Go means the goroutine already holding the lock.
type reentrantMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

func newReentrantMutex() *reentrantMutex {
	m := &reentrantMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *reentrantMutex) Lock() {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.depth > 0 && m.owner != id {
		m.cond.Wait()
	}
	m.owner = id
	m.depth++
}

func (m *reentrantMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 || m.owner != goid.Get() {
		panic("cbqn: unlock of engine lock not held by this goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.cond.Signal()
	}
}

// held reports whether the calling goroutine holds the lock.
func (m *reentrantMutex) held() bool {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0 && m.owner == id
}
