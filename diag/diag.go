// Package diag is the compiler's single diagnostic sink. ALAN-2022 has no
// error recovery, so every lexical, syntactic, semantic or system violation
// is reported exactly once and the process terminates - there are no
// warnings.
package diag

import (
	"fmt"

	"github.com/skx/alan-compiler/token"
)

// Kind is the closed taxonomy of diagnostics this compiler can raise.
type Kind string

const (
	// Lexical
	KindIllegalChar         Kind = "illegal character"
	KindIdentifierTooLong   Kind = "identifier too long"
	KindNumberTooLarge      Kind = "number too large"
	KindUnterminatedString  Kind = "unterminated string"
	KindIllegalEscape       Kind = "illegal escape"
	KindNonPrintableString  Kind = "non-printable character in string"
	KindNewlineInString     Kind = "newline in string"
	KindUnterminatedComment Kind = "unterminated comment"

	// Syntactic
	KindExpected Kind = "expected"

	// Semantic
	KindMultipleDefinition Kind = "multiple definition"
	KindUnknownIdentifier  Kind = "unknown identifier"
	KindNotAVariable       Kind = "not a variable"
	KindNotAnArray         Kind = "not an array"
	KindScalarExpected     Kind = "scalar expected"
	KindNotAFunction       Kind = "not a function"
	KindNotAProcedure      Kind = "not a procedure"
	KindTooFewArguments    Kind = "too few arguments"
	KindTooManyArguments   Kind = "too many arguments"
	KindIncompatibleTypes  Kind = "incompatible types"
	KindIllegalArrayOp     Kind = "illegal array operation"

	// System
	KindCannotOpenSource  Kind = "cannot open source"
	KindCannotWriteOutput Kind = "cannot write output"
	KindAssemblerFailed   Kind = "assembler invocation failed"
	KindJasminJarUnset    Kind = "JASMIN_JAR is not set"
)

// Error is the single error type diag ever produces. Rather than thread
// (T, error) through every parse routine when there is no recovery to
// perform, Fatal panics with an *Error and the top-level driver (or a test)
// recovers it with Recover.
type Error struct {
	File string
	Pos  token.Position
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Pos.Line == 0 && e.Pos.Col == 0 {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %s", e.File, e.Kind)
		}
		return fmt.Sprintf("%s: %s: %s", e.File, e.Kind, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s:%s: %s", e.File, e.Pos, e.Kind)
	}
	return fmt.Sprintf("%s:%s: %s: %s", e.File, e.Pos, e.Kind, e.Msg)
}

// Sink is the single fatal-error surface. A *Sink carries the name of the
// file being compiled so every diagnostic can be formatted uniformly
// instead of re-derived at every call site.
type Sink struct {
	// File is the name reported in "<file>:<line>:<col>: <kind>".
	File string
}

// New creates a diagnostic sink for the given source file name.
func New(file string) *Sink {
	return &Sink{File: file}
}

// Fatal formats a diagnostic and panics with it. It never returns; the
// panic is expected to propagate to a Recover call at the top of the
// compilation pipeline (cmd/alanc's main, or a test helper).
func (s *Sink) Fatal(pos token.Position, kind Kind, detail string) {
	panic(&Error{File: s.File, Pos: pos, Kind: kind, Msg: detail})
}

// FatalExpected reports a syntactic "expected X, found Y" mismatch.
func (s *Sink) FatalExpected(pos token.Position, want string, got token.Type) {
	s.Fatal(pos, KindExpected, fmt.Sprintf("expected %s, found %s", want, got))
}

// FatalSystem reports a system-level failure (I/O, assembler, environment)
// with no source position, routed through the same sink as every other
// diagnostic.
func (s *Sink) FatalSystem(kind Kind, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	panic(&Error{File: s.File, Kind: kind, Msg: msg})
}

// Recover, deferred at the top of a compilation pipeline, turns a panic
// raised by Fatal/FatalExpected/FatalSystem into a plain error return. Any
// other panic value is re-raised.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}
