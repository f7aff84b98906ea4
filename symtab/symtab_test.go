package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skx/alan-compiler/types"
)

func TestInsertAndFind(t *testing.T) {
	tab := New()

	require.True(t, tab.Insert("x", IDprop{Type: types.Int(), Offset: 0}))
	require.False(t, tab.Insert("x", IDprop{Type: types.Int(), Offset: 1}), "duplicate insert in the same scope must fail")

	prop, ok := tab.Find("x")
	require.True(t, ok)
	assert.Equal(t, types.Int(), prop.Type)
}

func TestFindUnknownReturnsFalse(t *testing.T) {
	tab := New()
	_, ok := tab.Find("nope")
	assert.False(t, ok)
}

// TestSubroutineScoping exercises the scoping invariant: while a
// subroutine is open, Find(x) returns the inner entry if present; else the
// outer entry iff it is callable; else neither. After CloseSubroutine,
// state equals the state before OpenSubroutine plus the inserted callable.
func TestSubroutineScoping(t *testing.T) {
	tab := New()

	require.True(t, tab.Insert("g", IDprop{Type: types.Int(), Offset: 0}))

	callable := IDprop{Type: types.Callable(types.Int()), Offset: 1}
	require.True(t, tab.OpenSubroutine("f", callable))
	require.True(t, tab.InSubroutine())

	// "g" lives in the outer (global) scope and is not callable, so it
	// must not leak through.
	_, ok := tab.Find("g")
	assert.False(t, ok, "non-callable outer entries must not be visible from the inner scope")

	// "f" itself is callable and was inserted into the (then-current)
	// outer scope before the inner scope was pushed, so it IS visible.
	prop, ok := tab.Find("f")
	require.True(t, ok, "a callable in the outer scope must be visible from the inner scope")
	assert.True(t, prop.Type.IsCallable())

	require.True(t, tab.Insert("a", IDprop{Type: types.Int(), Offset: 0}))
	prop, ok = tab.Find("a")
	require.True(t, ok)
	assert.Equal(t, uint32(0), prop.Offset)

	tab.CloseSubroutine()
	assert.False(t, tab.InSubroutine())

	// "a" was local to the closed subroutine and must be gone.
	_, ok = tab.Find("a")
	assert.False(t, ok)

	// "g" and "f" remain, exactly as before OpenSubroutine plus "f".
	_, ok = tab.Find("g")
	assert.True(t, ok)
	_, ok = tab.Find("f")
	assert.True(t, ok)
}

func TestOpenSubroutineFailsOnDuplicateName(t *testing.T) {
	tab := New()
	require.True(t, tab.Insert("f", IDprop{Type: types.Int()}))
	assert.False(t, tab.OpenSubroutine("f", IDprop{Type: types.Callable(types.None())}))
}

func TestCurrentLocalsWidth(t *testing.T) {
	tab := New()
	require.True(t, tab.Insert("a", IDprop{Type: types.Int(), Offset: 0}))
	require.True(t, tab.Insert("b", IDprop{Type: types.Int(), Offset: 1}))
	assert.Equal(t, uint32(2), tab.CurrentLocalsWidth())
}

// TestGrowPreservesEntries inserts enough names to force at least one
// rehash (load factor > 0.75 over the initial prime bucket count) and
// checks every entry is still reachable afterwards.
func TestGrowPreservesEntries(t *testing.T) {
	tab := New()
	const n = 200
	for i := 0; i < n; i++ {
		name := string(rune('a'+i%26)) + itoa(i)
		require.True(t, tab.Insert(name, IDprop{Type: types.Int(), Offset: uint32(i)}))
	}
	for i := 0; i < n; i++ {
		name := string(rune('a'+i%26)) + itoa(i)
		prop, ok := tab.Find(name)
		require.True(t, ok, "entry %q lost across rehash", name)
		assert.Equal(t, uint32(i), prop.Offset)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
