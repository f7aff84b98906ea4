package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skx/alan-compiler/diag"
)

// compile runs the full pipeline and recovers a fatal diagnostic into a
// plain error. Parse itself has no error return - there is no recovery
// inside the pipeline, only one fatal diagnostic per compile - so the
// conversion back to a plain error happens here via diag.Recover.
func compile(src string) (out string, err error) {
	defer diag.Recover(&err)
	out = Parse(src, diag.New("test.alan"), false)
	return
}

// TestBogusPrograms checks that every program in this table fails to
// compile.
func TestBogusPrograms(t *testing.T) {
	tests := []string{
		// empty program
		``,

		// missing body
		`source P`,

		// trailing garbage after the final end
		`source P begin relax end end`,

		// unknown identifier
		`source P begin x := 2 end`,

		// type mismatch
		`source P begin boolean b; b := 1 end`,

		// calling an unknown function
		`source P begin call nope() end`,

		// duplicate definition
		`source P begin integer x; integer x; relax end`,

		// array allocation into a scalar
		`source P begin integer a; a := array 4 end`,

		// reading into a whole array
		`source P begin integer array a; a := array 4; get a end`,

		// printing a whole array
		`source P begin integer array a; a := array 4; put a end`,

		// function missing leave
		`source P function f() to integer begin relax end begin relax end`,
	}

	for i, src := range tests {
		_, err := compile(src)
		assert.Error(t, err, "tests[%d] (%q) should have failed to compile", i, src)
	}
}

// TestValidPrograms checks that every program in this table compiles
// cleanly and produces some output assembly.
func TestValidPrograms(t *testing.T) {
	tests := []string{
		`source P begin relax end`,
		`source P begin integer x; x := 2 + 3 * 4 end`,
		`source P function f(integer a) to integer begin leave a + 1 end begin relax end`,
		`source P begin integer array a; a := array 4; a[0] := 9 end`,
		`source P begin boolean b; b := true and not false end`,
		`source P begin integer x; x := 0; while x < 10 do x := x + 1 end end`,
		`source P begin put "hi". 3 + 4 end`,
		`source P function show(integer n) begin put n end begin call show(3) end`,
		`source P begin integer array a; integer array b; a := array 2; b := a end`,
		`source P begin integer x; x := 5; if x < 0 then x := 0 elsif x > 10 then x := 10 else x := x end end`,
	}

	for i, src := range tests {
		out, err := compile(src)
		require.NoError(t, err, "tests[%d] (%q) should have compiled", i, src)
		assert.Contains(t, out, ".class public P", "tests[%d]", i)
	}
}

func TestEmptyMainEmitsReturn(t *testing.T) {
	out, err := compile(`source P begin relax end`)
	require.NoError(t, err)
	assert.Contains(t, out, ".method public static main([Ljava/lang/String;)V")
	assert.Contains(t, out, "RETURN")
}

func TestArithmeticExpression(t *testing.T) {
	out, err := compile(`source P begin integer x; x := 2 + 3 * 4 end`)
	require.NoError(t, err)
	assert.Contains(t, out, "IMUL")
	assert.Contains(t, out, "IADD")
	assert.Contains(t, out, "ISTORE 0")
}

func TestCallArityMismatch(t *testing.T) {
	_, err := compile(`source P function f(integer a) to integer begin leave a end begin integer x; x := f() end`)
	require.Error(t, err)
	diagErr, ok := err.(*diag.Error)
	require.True(t, ok)
	assert.Equal(t, diag.KindTooFewArguments, diagErr.Kind)
}

func TestArgumentTypeMismatch(t *testing.T) {
	_, err := compile(`source P function f(integer a) to integer begin leave a end begin boolean b; integer x; b := true; x := f(b) end`)
	require.Error(t, err)
}

func TestArrayOutOfPlaceIsIllegal(t *testing.T) {
	_, err := compile(`source P begin integer array a; integer x; a := array 4; x := a end`)
	require.Error(t, err)
}

func TestProcedureCannotLeaveValue(t *testing.T) {
	_, err := compile(`source P function f() begin leave 3 end begin relax end`)
	require.Error(t, err)
}

// TestArrayReturningFunction checks that a "to integer array" return type
// survives the symbol table: the call site sees an array result, and both
// the method descriptor and the INVOKESTATIC descriptor agree on it.
func TestArrayReturningFunction(t *testing.T) {
	out, err := compile(`source P
function mk(integer n) to integer array begin integer array a; a := array n; leave a end
begin integer array v; v := mk(3) end`)
	require.NoError(t, err)
	assert.Contains(t, out, ".method public static mk(I)[I")
	assert.Contains(t, out, "INVOKESTATIC P/mk(I)[I")
	assert.Contains(t, out, "ARETURN")
}

// TestBooleanArrayElementAccess checks that boolean arrays are accessed with
// the byte-array opcodes their NEWARRAY T_BOOLEAN allocation requires.
func TestBooleanArrayElementAccess(t *testing.T) {
	out, err := compile(`source P begin boolean array b; b := array 2; b[0] := true; b[1] := b[0] end`)
	require.NoError(t, err)
	assert.Contains(t, out, "NEWARRAY T_BOOLEAN")
	assert.Contains(t, out, "BASTORE")
	assert.Contains(t, out, "BALOAD")
	assert.NotContains(t, out, "IASTORE")
	assert.NotContains(t, out, "IALOAD")
}

// call is for procedures; a function's value must be consumed in an
// expression instead.
func TestCallOnFunctionIsNotAProcedure(t *testing.T) {
	_, err := compile(`source P function f() to integer begin leave 1 end begin call f() end`)
	require.Error(t, err)
	diagErr, ok := err.(*diag.Error)
	require.True(t, ok)
	assert.Equal(t, diag.KindNotAProcedure, diagErr.Kind)
}

// TestIfElsifChainJoinsAllLabels checks that every GOTO emitted by an
// if/elsif/else chain targets a label that the chain actually defines -
// each arm pushes its own join label onto a stack and every one of them
// must be popped and placed once the statement is done, not just the
// elsif arms'.
func TestIfElsifChainJoinsAllLabels(t *testing.T) {
	out, err := compile(`source P begin integer x; x := 5; if x < 0 then x := 0 elsif x > 10 then x := 10 else x := x end end`)
	require.NoError(t, err)

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "GOTO ") {
			target := strings.TrimPrefix(line, "GOTO ") + ":"
			assert.Contains(t, out, target, "GOTO target %q is never defined", target)
		}
	}
}

func TestPutStringEmitsTheLiteralText(t *testing.T) {
	out, err := compile(`source P begin put "hi". 3 + 4 end`)
	require.NoError(t, err)
	assert.Contains(t, out, `LDC "hi"`)
}

// TestMainBodyHasItsOwnScope checks that the implicit top-level body opens
// its own inner scope the same way a funcdef does, so a local declared
// there can shadow a global function/procedure of the same name instead of
// colliding with it.
func TestMainBodyHasItsOwnScope(t *testing.T) {
	out, err := compile(`source P function f() begin relax end begin integer f; f := 2 end`)
	require.NoError(t, err)
	assert.Contains(t, out, "ISTORE 0")
}

func TestNestedScopeCallableVisibility(t *testing.T) {
	// A function may call another function declared before it, but may
	// not see the other function's local variables.
	src := `source P
function g() to integer begin leave 1 end
function f() to integer begin leave g() + 1 end
begin relax end`
	_, err := compile(src)
	require.NoError(t, err)
}
