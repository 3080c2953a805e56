package compiler

import "aoclang/internal/bytecode"

// scope tracks the flat local-slot array of one function and the upvalues it
// captures from enclosing functions. The outermost scope is the top level,
// whose names are globals rather than slots.
type scope struct {
	enclosing    *scope
	isTop        bool
	names        map[string]int
	localNames   []string
	upvalues     []bytecode.UpvalueDesc
	upvalueNames []string
}

func newTopScope() *scope {
	return &scope{isTop: true, names: map[string]int{}}
}

func newScope(enclosing *scope) *scope {
	return &scope{enclosing: enclosing, names: map[string]int{}}
}

// addLocal reserves a new slot. Within a function all blocks share one slot
// array, so a name introduced in a nested block stays valid until the
// function ends.
func (s *scope) addLocal(name string) int {
	slot := len(s.localNames)
	s.names[name] = slot
	s.localNames = append(s.localNames, name)
	return slot
}

func (s *scope) resolveLocal(name string) (int, bool) {
	slot, ok := s.names[name]
	return slot, ok
}

// resolveUpvalue walks enclosing function scopes, materializing an upvalue
// chain down to this scope. Top-level names are globals, never upvalues.
func (s *scope) resolveUpvalue(name string) (int, bool) {
	if s.enclosing == nil || s.enclosing.isTop {
		return 0, false
	}
	if slot, ok := s.enclosing.resolveLocal(name); ok {
		return s.addUpvalue(name, bytecode.UpvalueDesc{IsLocal: true, Index: uint8(slot)}), true
	}
	if idx, ok := s.enclosing.resolveUpvalue(name); ok {
		return s.addUpvalue(name, bytecode.UpvalueDesc{IsLocal: false, Index: uint8(idx)}), true
	}
	return 0, false
}

func (s *scope) addUpvalue(name string, desc bytecode.UpvalueDesc) int {
	for i, existing := range s.upvalueNames {
		if existing == name {
			return i
		}
	}
	s.upvalues = append(s.upvalues, desc)
	s.upvalueNames = append(s.upvalueNames, name)
	return len(s.upvalues) - 1
}
