package extension

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/micros/insts"
)

// Library is a loaded Lua extension library. Scripts register extensions by
// calling
//
//	register_extension("name", function(funct7, rs1, rs2) return value end)
//
// Operand and result values travel as Lua numbers, so they are exact only up
// to 2^53.
type Library struct {
	path  string
	state *lua.LState
	names []string
}

// LoadLibrary runs the Lua script at path and registers every extension it
// declares.
func LoadLibrary(path string) (*Library, error) {
	lib := &Library{path: path, state: lua.NewState()}
	lib.state.SetGlobal("register_extension", lib.state.NewFunction(lib.register))

	if err := lib.state.DoFile(path); err != nil {
		lib.state.Close()
		return nil, fmt.Errorf("unable to load extlib %q: %w", path, err)
	}

	return lib, nil
}

// Names lists the extensions this library registered.
func (l *Library) Names() []string {
	return l.names
}

// Close releases the Lua interpreter.
func (l *Library) Close() {
	l.state.Close()
}

func (l *Library) register(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	l.names = append(l.names, name)
	Register(name, func() Extension {
		return &luaExtension{name: name, lib: l, fn: fn}
	})

	return 0
}

type luaExtension struct {
	name string
	lib  *Library
	fn   *lua.LFunction
}

func (e *luaExtension) Name() string { return e.name }

func (e *luaExtension) Reset() {}

func (e *luaExtension) Execute(inst *insts.Instruction, rs1, rs2 uint64) (uint64, error) {
	L := e.lib.state
	err := L.CallByParam(lua.P{Fn: e.fn, NRet: 1, Protect: true},
		lua.LNumber(inst.Raw>>25), lua.LNumber(rs1), lua.LNumber(rs2))
	if err != nil {
		return 0, fmt.Errorf("extension %s: %w", e.name, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("extension %s returned %s, want number", e.name, ret.Type())
	}
	return uint64(int64(n)), nil
}
