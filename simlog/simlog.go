// Package simlog provides the simulator's gated trace logger. Trace output is
// silent until the gate opens, either explicitly or once a commit count is
// reached.
package simlog

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// Gate switches trace output on and off. It is safe for concurrent use.
type Gate struct {
	on atomic.Bool
	at atomic.Int64
}

// NewGate creates a gate that opens once Observe sees at commits. At -1 the
// gate starts open; any other negative value never opens it automatically.
func NewGate(at int64) *Gate {
	g := &Gate{}
	g.at.Store(at)
	if at == -1 {
		g.on.Store(true)
	}
	return g
}

// Enable opens the gate.
func (g *Gate) Enable() { g.on.Store(true) }

// Disable closes the gate.
func (g *Gate) Disable() { g.on.Store(false) }

// On reports whether the gate is open.
func (g *Gate) On() bool { return g.on.Load() }

// Observe opens the gate when commits reaches the configured threshold.
func (g *Gate) Observe(commits uint64) {
	at := g.at.Load()
	if at >= 0 && commits >= uint64(at) && !g.on.Load() {
		g.on.Store(true)
	}
}

// New returns a logger that writes to w while g is open. A nil gate is
// always open.
func New(w io.Writer, g *Gate) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if g != nil && !g.On() {
			return
		}
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{Verbosity: 1})
}

// Discard returns a logger that drops everything.
func Discard() logr.Logger {
	return logr.Discard()
}
