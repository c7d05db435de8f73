package sdkplay

import (
	"time"

	"github.com/google/uuid"
)

// Session is the mutable state of one operator: the variables produced by
// prior invocations, the files the operator has supplied and the live
// instances invocations are routed to.
type Session struct {
	ID      string
	Started time.Time
	Vars    *VarStore
	Files   *FileStore
	Router  *Router
}

// NewSession returns a fresh session routing to router.
func NewSession(router *Router) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Vars:    NewVarStore(),
		Files:   NewFileStore(),
		Router:  router,
	}
}

// Reset clears the variables. Files and live instances are kept. Invocations
// still in flight when Reset is called complete without storing their result.
func (s *Session) Reset() {
	s.Vars.Reset()
}
