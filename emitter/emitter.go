// Package emitter accumulates the stack-machine instructions that make up
// one ALAN-2022 class file, emitting Jasmin-style JVM assembly text per
// subroutine.
//
// Each logical operation has its own Emit-style method that appends a chunk
// of assembly text to the current method's instruction stream, joined
// together by Output(). Generation is one method per subroutine (plus an
// implicit "main" for the top-level body), with a monotonic counter for
// fresh label names, so accumulation is per-method rather than global.
package emitter

import (
	"fmt"
	"strings"

	"github.com/skx/alan-compiler/types"
)

// method holds the in-progress instruction stream for one subroutine.
type method struct {
	name      string
	params    []types.ValType
	ret       types.ValType
	lines     []string
	maxLocals uint32
}

// Emitter accumulates the textual assembly for one ALAN-2022 class.
type Emitter struct {
	className string
	debug     bool

	methods []*method
	cur     *method

	labelSeq int
}

// New creates an Emitter for the class named className (the identifier that
// followed "source" in the program header).
func New(className string, debug bool) *Emitter {
	return &Emitter{
		className: className,
		debug:     debug,
	}
}

// OpenMethod starts a new subroutine. The local-slot counter (used to size
// max_locals) starts at the parameter count, since each parameter already
// occupies a slot.
func (e *Emitter) OpenMethod(name string, params []types.ValType, ret types.ValType) {
	e.cur = &method{name: name, params: params, ret: ret, maxLocals: uint32(len(params))}
}

// CloseMethod finalizes the current method's max_locals as
// currentLocalsWidth + 1 (one slot beyond the highest local offset is
// always added) and appends it to the class.
func (e *Emitter) CloseMethod(currentLocalsWidth uint32) {
	if currentLocalsWidth+1 > e.cur.maxLocals {
		e.cur.maxLocals = currentLocalsWidth + 1
	}
	e.methods = append(e.methods, e.cur)
	e.cur = nil
}

// NewLabel returns a fresh, monotonically increasing label name.
func (e *Emitter) NewLabel() string {
	e.labelSeq++
	return fmt.Sprintf("L%d", e.labelSeq)
}

// emit appends a raw instruction line to the current method.
func (e *Emitter) emit(line string) {
	e.cur.lines = append(e.cur.lines, line)
}

// emitLabel appends a label definition.
func (e *Emitter) emitLabel(label string) {
	e.cur.lines = append(e.cur.lines, label+":")
}

// touchLocal grows maxLocals to cover a newly-used local slot.
func (e *Emitter) touchLocal(slot uint32) {
	if slot+1 > e.cur.maxLocals {
		e.cur.maxLocals = slot + 1
	}
}

// --- load/store ---

// EmitLoadVar loads a scalar or array reference local onto the stack.
func (e *Emitter) EmitLoadVar(slot uint32, t types.ValType) {
	e.touchLocal(slot)
	if t.Array {
		e.emit(fmt.Sprintf("        ALOAD %d", slot))
	} else {
		e.emit(fmt.Sprintf("        ILOAD %d", slot))
	}
}

// EmitStoreVar stores the top of stack into a scalar or array reference
// local.
func (e *Emitter) EmitStoreVar(slot uint32, t types.ValType) {
	e.touchLocal(slot)
	if t.Array {
		e.emit(fmt.Sprintf("        ASTORE %d", slot))
	} else {
		e.emit(fmt.Sprintf("        ISTORE %d", slot))
	}
}

// EmitConstInt pushes an integer literal. Booleans are pushed as 0/1.
func (e *Emitter) EmitConstInt(lit string) {
	e.emit(fmt.Sprintf("        LDC %s", lit))
}

// EmitConstBool pushes a boolean literal as 0 or 1.
func (e *Emitter) EmitConstBool(v bool) {
	if v {
		e.emit("        LDC 1")
	} else {
		e.emit("        LDC 0")
	}
}

// --- arithmetic / logic ---

// EmitArith emits one of IADD/ISUB/IMUL/IDIV/IREM for the named addop/mulop.
func (e *Emitter) EmitArith(op string) {
	var instr string
	switch op {
	case "+":
		instr = "IADD"
	case "-":
		instr = "ISUB"
	case "*":
		instr = "IMUL"
	case "/":
		instr = "IDIV"
	case "REM":
		instr = "IREM"
	}
	e.emit("        " + instr)
}

// EmitNeg negates the integer on top of the stack (unary "-").
func (e *Emitter) EmitNeg() {
	e.emit("        INEG")
}

// EmitLogical emits IAND/IOR for "and"/"or".
func (e *Emitter) EmitLogical(op string) {
	if op == "AND" {
		e.emit("        IAND")
	} else {
		e.emit("        IOR")
	}
}

// EmitNot materializes logical negation of a 0/1 boolean: XOR with 1.
func (e *Emitter) EmitNot() {
	e.emit("        LDC 1")
	e.emit("        IXOR")
}

// EmitCompare lowers a relational or equality operator into a
// conditional-branch/push-0/goto/push-1 schema: conditional branch to
// L_true, push 0, goto L_end, L_true: push 1, L_end:.
func (e *Emitter) EmitCompare(op string) {
	var cmp string
	switch op {
	case "=":
		cmp = "IF_ICMPEQ"
	case "<>":
		cmp = "IF_ICMPNE"
	case "<":
		cmp = "IF_ICMPLT"
	case "<=":
		cmp = "IF_ICMPLE"
	case ">":
		cmp = "IF_ICMPGT"
	case ">=":
		cmp = "IF_ICMPGE"
	}
	lTrue := e.NewLabel()
	lEnd := e.NewLabel()
	e.emit(fmt.Sprintf("        %s %s", cmp, lTrue))
	e.emit("        LDC 0")
	e.emit(fmt.Sprintf("        GOTO %s", lEnd))
	e.emitLabel(lTrue)
	e.emit("        LDC 1")
	e.emitLabel(lEnd)
}

// --- arrays ---

// EmitNewArray allocates an array of the given element kind, sized by the
// integer value already on top of the stack.
func (e *Emitter) EmitNewArray(elem types.Kind) {
	if elem == types.BOOLEAN {
		e.emit("        NEWARRAY T_BOOLEAN")
	} else {
		e.emit("        NEWARRAY T_INT")
	}
}

// EmitArrayLoad pops an index then an array reference and pushes the
// element. Boolean arrays are NEWARRAY T_BOOLEAN allocations, which the JVM
// accesses with the byte-array opcodes.
func (e *Emitter) EmitArrayLoad(elem types.Kind) {
	if elem == types.BOOLEAN {
		e.emit("        BALOAD")
	} else {
		e.emit("        IALOAD")
	}
}

// EmitArrayStore pops a value, an index, then an array reference, and
// stores the value into the array.
func (e *Emitter) EmitArrayStore(elem types.Kind) {
	if elem == types.BOOLEAN {
		e.emit("        BASTORE")
	} else {
		e.emit("        IASTORE")
	}
}

// --- control flow ---

// BeginIf emits the conditional branch around one guarded block of an
// if/elsif/else chain, assuming the guard expression's value is already on
// the stack. It returns the label to jump to if the guard is false.
func (e *Emitter) BeginIf() (elseLabel string) {
	elseLabel = e.NewLabel()
	e.emit(fmt.Sprintf("        IFEQ %s", elseLabel))
	return elseLabel
}

// Goto emits an unconditional jump to label.
func (e *Emitter) Goto(label string) {
	e.emit(fmt.Sprintf("        GOTO %s", label))
}

// Label defines label at the current point in the instruction stream.
func (e *Emitter) Label(label string) {
	e.emitLabel(label)
}

// BeginWhile emits the head label of a "while c do s end" loop and returns
// it, along with a fresh exit label.
func (e *Emitter) BeginWhile() (head, exit string) {
	head = e.NewLabel()
	exit = e.NewLabel()
	e.emitLabel(head)
	return head, exit
}

// EndWhile emits the conditional exit branch, the guard expression having
// been emitted by the caller between BeginWhile and EndWhile; the caller
// then emits the loop body and must Goto(head) after it and Label(exit) to
// close the loop.
func (e *Emitter) EndWhile(exit string) {
	e.emit(fmt.Sprintf("        IFEQ %s", exit))
}

// --- calls / returns / io ---

// EmitCall pushes no additional arguments (the caller has already emitted
// argument pushes left-to-right) and invokes the named subroutine.
func (e *Emitter) EmitCall(name string, params []types.ValType, ret types.ValType) {
	e.emit(fmt.Sprintf("        INVOKESTATIC %s/%s(%s)%s",
		e.className, name, jvmParamSig(params), jvmReturnSig(ret)))
}

// EmitReturn emits a value-returning return for a function: scalars via
// IRETURN, array references via ARETURN.
func (e *Emitter) EmitReturn(ret types.ValType) {
	if ret.Array {
		e.emit("        ARETURN")
	} else {
		e.emit("        IRETURN")
	}
}

// EmitReturnVoid emits a void return for a procedure.
func (e *Emitter) EmitReturnVoid() {
	e.emit("        RETURN")
}

// EmitPrintString prints the string literal s, which has already had its
// escapes decoded by the lexer; jasminString re-escapes it into a Jasmin
// string-constant operand.
func (e *Emitter) EmitPrintString(s string) {
	e.emit("        GETSTATIC java/lang/System/out Ljava/io/PrintStream;")
	e.emit(fmt.Sprintf("        LDC %s", jasminString(s)))
	e.emit("        INVOKEVIRTUAL java/io/PrintStream/print(Ljava/lang/String;)V")
}

// EmitPrintValue prints the scalar value already on top of the stack.
func (e *Emitter) EmitPrintValue(t types.ValType) {
	e.emit("        GETSTATIC java/lang/System/out Ljava/io/PrintStream;")
	e.emit("        SWAP")
	if t.Base == types.BOOLEAN {
		e.emit("        INVOKEVIRTUAL java/io/PrintStream/print(Z)V")
	} else {
		e.emit("        INVOKEVIRTUAL java/io/PrintStream/print(I)V")
	}
}

// EmitGetInput reads one scalar from stdin and leaves it on the stack.
func (e *Emitter) EmitGetInput(t types.ValType) {
	if t.Base == types.BOOLEAN {
		e.emit("        INVOKESTATIC alanrt/readBoolean()Z")
	} else {
		e.emit("        INVOKESTATIC alanrt/readInt()I")
	}
}

// --- finalization ---

// jasminString renders s as a double-quoted Jasmin string-constant operand,
// escaping the characters Jasmin's assembler gives special meaning to.
func jasminString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func jvmParamSig(params []types.ValType) string {
	var b strings.Builder
	for _, p := range params {
		b.WriteString(jvmType(p))
	}
	return b.String()
}

func jvmReturnSig(ret types.ValType) string {
	if ret.Base == types.NONE {
		return "V"
	}
	return jvmType(ret)
}

func jvmType(t types.ValType) string {
	base := "I"
	if t.Base == types.BOOLEAN {
		base = "Z"
	}
	if t.Array {
		return "[" + base
	}
	return base
}

// Output renders the full class as Jasmin-style assembly text: a class
// header, then each method in the order they were closed.
func (e *Emitter) Output() string {
	var b strings.Builder

	fmt.Fprintf(&b, ".class public %s\n", e.className)
	b.WriteString(".super java/lang/Object\n\n")

	for _, m := range e.methods {
		writeMethod(&b, m, e.debug)
	}

	return b.String()
}

func writeMethod(b *strings.Builder, m *method, debug bool) {
	// The implicit top-level body is emitted as the JVM entry point, so it
	// carries the String[] signature java expects even though ALAN-2022's
	// main takes no parameters.
	if m.name == "main" && len(m.params) == 0 {
		b.WriteString(".method public static main([Ljava/lang/String;)V\n")
	} else {
		fmt.Fprintf(b, ".method public static %s(%s)%s\n", m.name, jvmParamSig(m.params), jvmReturnSig(m.ret))
	}
	fmt.Fprintf(b, ".limit locals %d\n", m.maxLocals)
	fmt.Fprintf(b, ".limit stack 64\n")
	if debug {
		b.WriteString("; DEBUG\n")
	}
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(".end method\n\n")
}
