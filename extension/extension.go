// Package extension provides custom-0 accelerator extensions. Extensions are
// looked up by name; built-in ones are always available and scripted ones are
// added by loading a Lua library.
package extension

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/micros/insts"
)

// Extension is an accelerator attached to a hart.
type Extension interface {
	Name() string
	Execute(inst *insts.Instruction, rs1, rs2 uint64) (uint64, error)
	Reset()
}

// Factory builds a fresh extension instance for one hart.
type Factory func() Extension

var (
	registryLock sync.Mutex
	registry     = map[string]Factory{
		"dummy": func() Extension { return &Dummy{} },
	}
)

// Register makes an extension available under name, replacing any previous
// registration.
func Register(name string, f Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = f
}

// Find returns the factory registered under name.
func Find(name string) (Factory, error) {
	registryLock.Lock()
	defer registryLock.Unlock()

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown extension %q (available: %v)", name, names())
	}
	return f, nil
}

// Names lists the registered extensions.
func Names() []string {
	registryLock.Lock()
	defer registryLock.Unlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Dummy is a four-entry accumulator. funct7 selects the operation:
// 0 writes acc[rs2] = rs1, 1 reads acc[rs2], 3 adds rs1 into acc[rs2] and
// returns the sum.
type Dummy struct {
	acc [4]uint64
}

// Name returns "dummy".
func (d *Dummy) Name() string { return "dummy" }

// Reset clears the accumulators.
func (d *Dummy) Reset() { d.acc = [4]uint64{} }

// Execute runs one custom-0 instruction.
func (d *Dummy) Execute(inst *insts.Instruction, rs1, rs2 uint64) (uint64, error) {
	i := rs2 % uint64(len(d.acc))
	switch funct7 := inst.Raw >> 25; funct7 {
	case 0:
		d.acc[i] = rs1
		return 0, nil
	case 1:
		return d.acc[i], nil
	case 3:
		d.acc[i] += rs1
		return d.acc[i], nil
	default:
		return 0, fmt.Errorf("dummy: unsupported funct7 %d", funct7)
	}
}
