package stats

import (
	"sort"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/micros/oracle"
	"github.com/sarchlab/micros/timing/payload"
)

// HookKey identifies a counted hook position.
type HookKey struct {
	Domain string
	Pos    string
}

// HookCounter is an akita hook that counts invocations per domain kind and
// hook position.
type HookCounter struct {
	counts map[HookKey]uint64
}

// NewHookCounter creates an empty counter.
func NewHookCounter() *HookCounter {
	return &HookCounter{counts: make(map[HookKey]uint64)}
}

func domainName(d sim.Hookable) string {
	switch d.(type) {
	case *payload.Store:
		return "payload"
	case *oracle.Buffer:
		return "oracle"
	default:
		return "other"
	}
}

// Func counts one invocation.
func (h *HookCounter) Func(ctx sim.HookCtx) {
	h.counts[HookKey{Domain: domainName(ctx.Domain), Pos: ctx.Pos.Name}]++
}

// Count returns the invocations counted for a domain kind and position.
func (h *HookCounter) Count(domain, pos string) uint64 {
	return h.counts[HookKey{Domain: domain, Pos: pos}]
}

// Keys returns the counted keys sorted by domain and position.
func (h *HookCounter) Keys() []HookKey {
	keys := make([]HookKey, 0, len(h.counts))
	for k := range h.counts {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Domain != keys[j].Domain {
			return keys[i].Domain < keys[j].Domain
		}
		return keys[i].Pos < keys[j].Pos
	})

	return keys
}
