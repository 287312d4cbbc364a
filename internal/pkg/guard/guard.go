package guard

import (
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

// Listener is an unload interceptor hooked while jobs are in flight
type Listener interface {
	Register()
	Unregister()
}

// Confirmer presents a stay/leave decision to the user
type Confirmer interface {
	Confirm(msg string) bool
}

// Guard prevents silent loss of visibility into in-flight jobs.
// It keeps the unload listener registered exactly while any job is
// active, so no listener outlives the last job.
type Guard struct {
	lock       *sync.Mutex
	listener   Listener
	confirmer  Confirmer
	active     bool
	registered bool
	idleCh     chan struct{}
}

// New creates a guard
func New(listener Listener, confirmer Confirmer) *Guard {
	return &Guard{lock: &sync.Mutex{}, listener: listener, confirmer: confirmer,
		idleCh: make(chan struct{})}
}

// OnActiveChange is the tracker's active-state subscription target
func (g *Guard) OnActiveChange(active bool) {
	g.lock.Lock()
	g.active = active
	doRegister := active && !g.registered
	doUnregister := !active && g.registered
	if doRegister {
		g.registered = true
	}
	if doUnregister {
		g.registered = false
		close(g.idleCh)
		g.idleCh = make(chan struct{})
	}
	g.lock.Unlock()

	if doRegister {
		goapp.Log.Debug().Msg("guard on")
		g.listener.Register()
	}
	if doUnregister {
		goapp.Log.Debug().Msg("guard off")
		g.listener.Unregister()
	}
}

// Active reports whether the guard currently protects in-flight jobs
func (g *Guard) Active() bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.active
}

// ConfirmLeave gates an in-app navigation away from visible jobs.
// With no active jobs it runs leave immediately. Otherwise the user
// decides: stay is a no-op returning false, leave runs the requested
// navigation and returns true.
func (g *Guard) ConfirmLeave(leave func()) bool {
	if !g.Active() {
		leave()
		return true
	}
	if !g.confirmer.Confirm("jobs are still processing") {
		return false
	}
	leave()
	return true
}

// WaitIdle blocks until no job is active or the timeout passes.
// Returns true if idle was reached.
func (g *Guard) WaitIdle(timeout time.Duration) bool {
	g.lock.Lock()
	if !g.active {
		g.lock.Unlock()
		return true
	}
	ch := g.idleCh
	g.lock.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
