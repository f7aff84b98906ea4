// Package symtab implements the two-level ALAN-2022 symbol table: a global
// scope plus at most one nested subroutine scope, with "callable-only"
// visibility from the inner scope into the outer one.
//
// Storage is a hash table with chaining, sized from a prime sequence and
// grown whenever the load factor exceeds 0.75. The two scopes are a
// two-deep explicit stack rather than a pair of ad-hoc globals, so the
// callable-only leak-through rule at lookup time has one place to live.
package symtab

import "github.com/skx/alan-compiler/types"

// IDprop is the property record associated with an in-scope identifier.
type IDprop struct {
	Type   types.ValType
	Offset uint32
	Params []types.ValType
}

// deltas[k] is the distance below 2^k of the largest prime below 2^k, for
// k = 0..31.
var deltas = [32]uint32{
	0, 0, 1, 1, 3, 1, 3, 1, 5, 3, 3, 9, 3, 1, 3, 19,
	15, 1, 5, 1, 3, 9, 3, 15, 3, 39, 5, 39, 57, 3, 35, 1,
}

func primeSize(k uint) uint32 {
	return (uint32(1) << k) - deltas[k]
}

const minSizeExp = 5 // sizes start at the largest prime below 2^5

type entry struct {
	name string
	prop IDprop
	next *entry
}

// scope is a single hash-table-with-chaining level.
type scope struct {
	buckets []*entry
	count   int
	sizeExp uint
}

func newScope() *scope {
	s := &scope{sizeExp: minSizeExp}
	s.buckets = make([]*entry, primeSize(s.sizeExp))
	return s
}

func rotl32(v uint32, n uint) uint32 {
	return (v << n) | (v >> (32 - n))
}

func hashBytes(b []byte) uint32 {
	var h uint32
	for _, c := range b {
		h = rotl32(h, 5) + uint32(c)
	}
	return h
}

func (s *scope) bucketFor(name string) int {
	size := uint32(len(s.buckets))
	return int(hashBytes([]byte(name)) % (size - 1))
}

func (s *scope) lookupLocal(name string) (IDprop, bool) {
	for e := s.buckets[s.bucketFor(name)]; e != nil; e = e.next {
		if e.name == name {
			return e.prop, true
		}
	}
	return IDprop{}, false
}

func (s *scope) insert(name string, prop IDprop) bool {
	if _, found := s.lookupLocal(name); found {
		return false
	}
	if float64(s.count+1)/float64(len(s.buckets)) > 0.75 {
		s.grow()
	}
	idx := s.bucketFor(name)
	s.buckets[idx] = &entry{name: name, prop: prop, next: s.buckets[idx]}
	s.count++
	return true
}

func (s *scope) grow() {
	s.sizeExp++
	newBuckets := make([]*entry, primeSize(s.sizeExp))
	old := s.buckets
	s.buckets = newBuckets
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			idx := s.bucketFor(e.name)
			e.next = s.buckets[idx]
			s.buckets[idx] = e
			e = next
		}
	}
}

func (s *scope) maxOffset() uint32 {
	var max uint32
	for _, head := range s.buckets {
		for e := head; e != nil; e = e.next {
			if e.prop.Offset+1 > max && !e.prop.Type.IsCallable() {
				max = e.prop.Offset + 1
			}
		}
	}
	return max
}

// Table is the two-level ALAN-2022 symbol table.
type Table struct {
	current *scope
	outer   *scope // nil unless a subroutine scope is open
}

// New creates a symbol table with just the global scope open.
func New() *Table {
	return &Table{current: newScope()}
}

// Insert adds name to the current scope. It fails (returns false) if name
// already exists in the current scope; the outer scope is not consulted.
func (t *Table) Insert(name string, prop IDprop) bool {
	return t.current.insert(name, prop)
}

// OpenSubroutine inserts name (the subroutine itself) into the current
// (outer, at this point still global) scope, then pushes a fresh empty
// inner scope as current. It fails if name already exists in the current
// scope. Inserting before pushing means a subroutine can see its own name
// (for recursion) and any sibling declared before it can see it too.
func (t *Table) OpenSubroutine(name string, prop IDprop) bool {
	if !t.current.insert(name, prop) {
		return false
	}
	t.outer = t.current
	t.current = newScope()
	return true
}

// CloseSubroutine discards the inner scope (releasing all its entries) and
// restores the outer scope as current.
func (t *Table) CloseSubroutine() {
	t.current = t.outer
	t.outer = nil
}

// Find looks up name: first in the current scope, then - only if a
// subroutine is open and the entry found there is callable - in the outer
// scope.
func (t *Table) Find(name string) (IDprop, bool) {
	if prop, ok := t.current.lookupLocal(name); ok {
		return prop, true
	}
	if t.outer == nil {
		return IDprop{}, false
	}
	prop, ok := t.outer.lookupLocal(name)
	if !ok || !prop.Type.IsCallable() {
		return IDprop{}, false
	}
	return prop, true
}

// CurrentLocalsWidth returns the highest offset assigned in the current
// scope, plus one - used by the emitter to size a subroutine's frame.
func (t *Table) CurrentLocalsWidth() uint32 {
	return t.current.maxOffset()
}

// InSubroutine reports whether a subroutine scope is currently open.
func (t *Table) InSubroutine() bool {
	return t.outer != nil
}
