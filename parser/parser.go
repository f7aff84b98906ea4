// Package parser implements the ALAN-2022 recursive-descent parser and
// inline type checker, driving the scanner, symbol table and code emitter
// from a single buffered lookahead token.
//
// Parsing, type checking and code generation run in one pass: every grammar
// method is mutually recursive with the others and shares state through a
// single *Parser value threaded by pointer, rather than through package
// globals for the lookahead token, symbol table and emitter.
package parser

import (
	"github.com/skx/alan-compiler/diag"
	"github.com/skx/alan-compiler/emitter"
	"github.com/skx/alan-compiler/lexer"
	"github.com/skx/alan-compiler/stack"
	"github.com/skx/alan-compiler/symtab"
	"github.com/skx/alan-compiler/token"
	"github.com/skx/alan-compiler/types"
)

// subCtx tracks the return type of the subroutine currently being parsed,
// and whether at least one value-carrying "leave" has been seen. A function
// with a declared return type must leave a value on every path; a full
// control-flow reachability check is beyond this grammar-directed single
// pass, so presence of at least one leave-with-value anywhere in the body is
// the check actually performed (see DESIGN.md).
type subCtx struct {
	ret       types.ValType
	isFunc    bool
	sawLeave  bool
	nextLocal uint32
}

// Parser drives the scanner, symbol table and emitter over one ALAN-2022
// source file.
type Parser struct {
	lex  *lexer.Lexer
	sink *diag.Sink
	syms *symtab.Table
	em   *emitter.Emitter

	tok token.Token // single token of lookahead

	cur *subCtx
}

// New creates a parser over src, reporting diagnostics through sink, and
// primes the lookahead with its first call to advance(). The emitter is not
// created here: parseSource constructs it once it has read the class name
// off the "source" header.
func New(src string, sink *diag.Sink) *Parser {
	p := &Parser{
		lex:  lexer.New(src, sink),
		sink: sink,
		syms: symtab.New(),
	}
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.tok = p.lex.NextToken()
}

func (p *Parser) at(tt token.Type) bool {
	return p.tok.Type == tt
}

// expect consumes the lookahead if it matches tt, else raises a fatal
// "expected X, found Y" diagnostic.
func (p *Parser) expect(tt token.Type, want string) token.Token {
	if !p.at(tt) {
		p.sink.FatalExpected(p.tok.Pos, want, p.tok.Type)
	}
	t := p.tok
	p.advance()
	return t
}

// Parse drives the full "source" production and returns the finished
// Jasmin-style assembly text. Callers recover fatal diagnostics with
// diag.Recover.
func Parse(src string, sink *diag.Sink, debug bool) string {
	p := New(src, sink)
	return p.parseSource(debug)
}

// --- source / funcdef / body ---

func (p *Parser) parseSource(debug bool) string {
	p.expect(token.SOURCE, "source")
	name := p.expect(token.ID, "identifier").Literal
	p.em = emitter.New(name, debug)

	for p.at(token.FUNCTION) {
		p.parseFuncDef()
	}

	// The top-level body runs as an implicit, parameterless "main"
	// procedure: it shares the funcdef/body subroutine-scope mechanism and
	// never returns a value. It gets its own inner symbol-table scope the
	// same way a real funcdef does, so its locals shadow globals of the
	// same name rather than colliding with them; "" is used as its entry
	// name since no ALAN-2022 identifier can ever be empty, so it can
	// never collide with a user-declared function or procedure.
	p.syms.OpenSubroutine("", symtab.IDprop{Type: types.Callable(types.None())})

	p.cur = &subCtx{ret: types.None(), isFunc: false}
	p.em.OpenMethod("main", nil, types.None())
	p.parseBody()
	p.em.EmitReturnVoid()
	p.em.CloseMethod(p.syms.CurrentLocalsWidth())

	p.syms.CloseSubroutine()

	p.expect(token.EOF, "end of file")

	return p.em.Output()
}

func (p *Parser) parseFuncDef() {
	p.expect(token.FUNCTION, "function")
	namePos := p.tok.Pos
	name := p.expect(token.ID, "identifier").Literal

	p.expect(token.LPAREN, "(")
	var paramNames []string
	var paramTypes []types.ValType
	if !p.at(token.RPAREN) {
		pt, pn := p.parseType(), p.expect(token.ID, "identifier").Literal
		paramTypes = append(paramTypes, pt)
		paramNames = append(paramNames, pn)
		for p.at(token.COMMA) {
			p.advance()
			pt, pn = p.parseType(), p.expect(token.ID, "identifier").Literal
			paramTypes = append(paramTypes, pt)
			paramNames = append(paramNames, pn)
		}
	}
	p.expect(token.RPAREN, ")")

	ret := types.None()
	isFunc := false
	if p.at(token.TO) {
		p.advance()
		ret = p.parseType()
		isFunc = true
	}

	callableType := types.Callable(ret)
	if !p.syms.OpenSubroutine(name, symtab.IDprop{Type: callableType, Offset: 1, Params: paramTypes}) {
		p.sink.Fatal(namePos, diag.KindMultipleDefinition, name)
	}

	for i, pn := range paramNames {
		p.syms.Insert(pn, symtab.IDprop{Type: paramTypes[i], Offset: uint32(i)})
	}

	outer := p.cur
	p.cur = &subCtx{ret: ret, isFunc: isFunc, nextLocal: uint32(len(paramNames))}
	p.em.OpenMethod(name, paramTypes, ret)

	p.parseBody()

	if isFunc && !p.cur.sawLeave {
		p.sink.Fatal(p.tok.Pos, diag.KindIncompatibleTypes, "function body has no leave statement")
	}
	if !isFunc {
		p.em.EmitReturnVoid()
	}
	p.em.CloseMethod(p.syms.CurrentLocalsWidth())

	p.cur = outer
	p.syms.CloseSubroutine()
}

func (p *Parser) parseBody() {
	p.expect(token.BEGIN, "begin")
	for p.at(token.INTEGER) || p.at(token.BOOLEAN) {
		p.parseVarDef()
	}
	p.parseStatements()
	p.expect(token.END, "end")
}

// parseType recognizes ("boolean"|"integer") ["array"]. The "array" keyword
// is always consumed if present.
func (p *Parser) parseType() types.ValType {
	var base types.Kind
	switch p.tok.Type {
	case token.INTEGER:
		base = types.INTEGER
	case token.BOOLEAN:
		base = types.BOOLEAN
	default:
		p.sink.FatalExpected(p.tok.Pos, "type", p.tok.Type)
	}
	p.advance()
	isArray := false
	if p.at(token.ARRAY) {
		p.advance()
		isArray = true
	}
	return types.ValType{Base: base, Array: isArray}
}

func (p *Parser) parseVarDef() {
	t := p.parseType()
	p.declareLocal(t)
	for p.at(token.COMMA) {
		p.advance()
		p.declareLocal(t)
	}
	p.expect(token.SEMI, ";")
}

func (p *Parser) declareLocal(t types.ValType) {
	pos := p.tok.Pos
	name := p.expect(token.ID, "identifier").Literal
	offset := p.cur.nextLocal
	p.cur.nextLocal++
	if !p.syms.Insert(name, symtab.IDprop{Type: t, Offset: offset}) {
		p.sink.Fatal(pos, diag.KindMultipleDefinition, name)
	}
}

// --- statements ---

func (p *Parser) parseStatements() {
	if p.at(token.RELAX) {
		p.advance()
		return
	}
	p.parseStatement()
	for p.at(token.SEMI) {
		p.advance()
		p.parseStatement()
	}
}

func (p *Parser) parseStatement() {
	switch p.tok.Type {
	case token.ID:
		p.parseAssign()
	case token.CALL:
		p.parseCallStatement()
	case token.IF:
		p.parseIf()
	case token.GET:
		p.parseInput()
	case token.LEAVE:
		p.parseLeave()
	case token.PUT:
		p.parseOutput()
	case token.WHILE:
		p.parseWhile()
	default:
		p.sink.FatalExpected(p.tok.Pos, "statement", p.tok.Type)
	}
}

func (p *Parser) lookupOrFail(name string, pos token.Position) symtab.IDprop {
	prop, ok := p.syms.Find(name)
	if !ok {
		p.sink.Fatal(pos, diag.KindUnknownIdentifier, name)
	}
	return prop
}

func (p *Parser) parseAssign() {
	pos := p.tok.Pos
	name := p.tok.Literal
	p.advance()

	prop := p.lookupOrFail(name, pos)
	if prop.Type.IsCallable() {
		p.sink.Fatal(pos, diag.KindNotAVariable, name)
	}

	subscripted := false
	if p.at(token.LBRACKET) {
		if !prop.Type.IsArray() {
			p.sink.Fatal(pos, diag.KindNotAnArray, name)
		}
		// IASTORE/BASTORE expect arrayref, index, value on the stack in that
		// order, so the arrayref is pushed now, before the index expression.
		p.em.EmitLoadVar(prop.Offset, prop.Type)
		p.advance()
		idxPos := p.tok.Pos
		idxType := p.parseSimple()
		if idxType.Base != types.INTEGER || idxType.Array {
			p.sink.Fatal(idxPos, diag.KindScalarExpected, "array index must be integer")
		}
		p.expect(token.RBRACKET, "]")
		subscripted = true
	}

	p.expect(token.GETS, ":=")

	if !p.at(token.ARRAY) && !p.atExprStart() {
		p.sink.FatalExpected(p.tok.Pos, "array allocation or expression", p.tok.Type)
	}

	elemType := prop.Type
	if subscripted {
		elemType = types.ValType{Base: prop.Type.Base}
	}

	if p.at(token.ARRAY) {
		if subscripted || !prop.Type.IsArray() {
			p.sink.Fatal(pos, diag.KindIllegalArrayOp, name)
		}
		p.advance()
		lenPos := p.tok.Pos
		lenType := p.parseSimple()
		if lenType.Base != types.INTEGER || lenType.Array {
			p.sink.Fatal(lenPos, diag.KindScalarExpected, "array length must be integer")
		}
		p.em.EmitNewArray(prop.Type.Base)
		p.em.EmitStoreVar(prop.Offset, prop.Type)
		return
	}

	exprPos := p.tok.Pos
	valType := p.parseExpr()
	if !valType.Equal(elemType) {
		p.sink.Fatal(exprPos, diag.KindIncompatibleTypes,
			"expected "+elemType.String()+", found "+valType.String())
	}

	if subscripted {
		p.em.EmitArrayStore(prop.Type.Base)
	} else {
		p.em.EmitStoreVar(prop.Offset, prop.Type)
	}
}

func (p *Parser) parseCallStatement() {
	pos := p.tok.Pos
	p.advance()
	name := p.expect(token.ID, "identifier").Literal
	prop := p.lookupOrFail(name, pos)
	if !prop.Type.IsProcedure() {
		p.sink.Fatal(pos, diag.KindNotAProcedure, name)
	}
	p.parseArgsAndCall(pos, name, prop)
}

// parseArgsAndCall parses "(" [ expr {"," expr} ] ")" and emits the call,
// checking arity and per-argument types against prop.Params.
func (p *Parser) parseArgsAndCall(pos token.Position, name string, prop symtab.IDprop) {
	p.expect(token.LPAREN, "(")
	var args []types.ValType
	if !p.at(token.RPAREN) {
		args = append(args, p.parseExpr())
		for p.at(token.COMMA) {
			p.advance()
			args = append(args, p.parseExpr())
		}
	}
	p.expect(token.RPAREN, ")")

	if len(args) < len(prop.Params) {
		p.sink.Fatal(pos, diag.KindTooFewArguments, name)
	}
	if len(args) > len(prop.Params) {
		p.sink.Fatal(pos, diag.KindTooManyArguments, name)
	}
	for i, a := range args {
		if !a.Equal(prop.Params[i]) {
			p.sink.Fatal(pos, diag.KindIncompatibleTypes,
				"argument "+itoa(i+1)+" of "+name)
		}
	}

	ret := prop.Type.ReturnType()
	p.em.EmitCall(name, prop.Params, ret)
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

func (p *Parser) parseIf() {
	p.advance()

	// Every if/elsif arm that takes its branch must skip past the
	// remaining arms once it reaches the end of "if", so each arm's join
	// label is pushed here and popped off once the whole statement has
	// been parsed.
	joins := stack.New()
	joins.Push(p.parseGuardedBlock())
	for p.at(token.ELSIF) {
		p.advance()
		joins.Push(p.parseGuardedBlock())
	}
	if p.at(token.ELSE) {
		p.advance()
		p.parseStatements()
	}
	p.expect(token.END, "end")
	for _, l := range joins.All() {
		p.em.Label(l)
	}
}

// parseGuardedBlock parses "expr THEN statements" for one if/elsif arm,
// emitting the conditional-branch/goto-join lowering, and returns the join
// label this arm jumps to after its statements. A failed guard lands on the
// arm's own else label, placed right after it; parseIf places the join
// label once the whole statement has been parsed.
func (p *Parser) parseGuardedBlock() string {
	condPos := p.tok.Pos
	condType := p.parseExpr()
	if condType.Base != types.BOOLEAN || condType.Array {
		p.sink.Fatal(condPos, diag.KindScalarExpected, "boolean expected")
	}
	p.expect(token.THEN, "then")
	elseLabel := p.em.BeginIf()
	p.parseStatements()
	joinLabel := p.em.NewLabel()
	p.em.Goto(joinLabel)
	p.em.Label(elseLabel)
	return joinLabel
}

func (p *Parser) parseWhile() {
	p.advance()
	head, exit := p.em.BeginWhile()
	condPos := p.tok.Pos
	condType := p.parseExpr()
	if condType.Base != types.BOOLEAN || condType.Array {
		p.sink.Fatal(condPos, diag.KindScalarExpected, "boolean expected")
	}
	p.em.EndWhile(exit)
	p.expect(token.DO, "do")
	p.parseStatements()
	p.em.Goto(head)
	p.em.Label(exit)
	p.expect(token.END, "end")
}

func (p *Parser) parseInput() {
	pos := p.tok.Pos
	p.advance()
	name := p.expect(token.ID, "identifier").Literal
	prop := p.lookupOrFail(name, pos)
	if prop.Type.IsCallable() {
		p.sink.Fatal(pos, diag.KindNotAVariable, name)
	}

	if p.at(token.LBRACKET) {
		if !prop.Type.IsArray() {
			p.sink.Fatal(pos, diag.KindNotAnArray, name)
		}
		p.em.EmitLoadVar(prop.Offset, prop.Type)
		p.advance()
		idxPos := p.tok.Pos
		idxType := p.parseSimple()
		if idxType.Base != types.INTEGER || idxType.Array {
			p.sink.Fatal(idxPos, diag.KindScalarExpected, "array index must be integer")
		}
		p.expect(token.RBRACKET, "]")
		p.em.EmitGetInput(types.ValType{Base: prop.Type.Base})
		p.em.EmitArrayStore(prop.Type.Base)
		return
	}

	if prop.Type.IsArray() {
		p.sink.Fatal(pos, diag.KindIllegalArrayOp, name)
	}
	p.em.EmitGetInput(prop.Type)
	p.em.EmitStoreVar(prop.Offset, prop.Type)
}

func (p *Parser) parseLeave() {
	pos := p.tok.Pos
	p.advance()

	hasExpr := !p.atStatementBoundary()

	if p.cur.isFunc {
		if !hasExpr {
			p.sink.Fatal(pos, diag.KindIncompatibleTypes, "function must leave a value")
		}
		valPos := p.tok.Pos
		valType := p.parseExpr()
		if !valType.Equal(p.cur.ret) {
			p.sink.Fatal(valPos, diag.KindIncompatibleTypes,
				"expected "+p.cur.ret.String()+", found "+valType.String())
		}
		p.em.EmitReturn(p.cur.ret)
		p.cur.sawLeave = true
		return
	}

	if hasExpr {
		p.sink.Fatal(pos, diag.KindIncompatibleTypes, "procedure cannot leave a value")
	}
	p.em.EmitReturnVoid()
	p.cur.sawLeave = true
}

// atStatementBoundary reports whether the lookahead cannot start an
// expression, i.e. "leave" has no operand here.
func (p *Parser) atStatementBoundary() bool {
	switch p.tok.Type {
	case token.SEMI, token.END, token.ELSE, token.ELSIF, token.EOF:
		return true
	default:
		return false
	}
}

func (p *Parser) parseOutput() {
	p.advance()
	p.parsePutOperand()
	for p.at(token.CONCAT) {
		p.advance()
		p.parsePutOperand()
	}
}

// atExprStart reports whether the lookahead is in FIRST(expr).
func (p *Parser) atExprStart() bool {
	switch p.tok.Type {
	case token.ID, token.NUMBER, token.LPAREN, token.NOT, token.TRUE, token.FALSE, token.MINUS:
		return true
	default:
		return false
	}
}

func (p *Parser) parsePutOperand() {
	if !p.at(token.STRING) && !p.atExprStart() {
		p.sink.FatalExpected(p.tok.Pos, "expression or string", p.tok.Type)
	}
	if p.at(token.STRING) {
		s := string(p.tok.Value)
		p.advance()
		p.em.EmitPrintString(s)
		return
	}
	pos := p.tok.Pos
	t := p.parseExpr()
	if t.Array {
		p.sink.Fatal(pos, diag.KindScalarExpected, "put operand must be a string or scalar")
	}
	p.em.EmitPrintValue(t)
}

// --- expressions ---

func (p *Parser) parseExpr() types.ValType {
	lhsPos := p.tok.Pos
	lhs := p.parseSimple()

	switch p.tok.Type {
	case token.EQ, token.NE:
		op := p.tok.Type
		p.advance()
		rhsPos := p.tok.Pos
		rhs := p.parseSimple()
		if lhs.Array || rhs.Array || lhs.Base != rhs.Base {
			p.sink.Fatal(rhsPos, diag.KindIncompatibleTypes,
				"expected "+lhs.String()+", found "+rhs.String())
		}
		p.em.EmitCompare(opLiteral(op))
		return types.Bool()

	case token.LT, token.LE, token.GT, token.GE:
		op := p.tok.Type
		p.advance()
		rhsPos := p.tok.Pos
		if lhs.Base != types.INTEGER || lhs.Array {
			p.sink.Fatal(lhsPos, diag.KindScalarExpected, "integer expected")
		}
		rhs := p.parseSimple()
		if rhs.Base != types.INTEGER || rhs.Array {
			p.sink.Fatal(rhsPos, diag.KindScalarExpected, "integer expected")
		}
		p.em.EmitCompare(opLiteral(op))
		return types.Bool()
	}
	return lhs
}

func opLiteral(tt token.Type) string {
	switch tt {
	case token.EQ:
		return "="
	case token.NE:
		return "<>"
	case token.LT:
		return "<"
	case token.LE:
		return "<="
	case token.GT:
		return ">"
	case token.GE:
		return ">="
	}
	return ""
}

func (p *Parser) parseSimple() types.ValType {
	neg := false
	if p.at(token.MINUS) {
		p.advance()
		neg = true
	}
	pos := p.tok.Pos
	t := p.parseTerm()
	if neg {
		if t.Base != types.INTEGER || t.Array {
			p.sink.Fatal(pos, diag.KindScalarExpected, "integer expected")
		}
		p.em.EmitNeg()
	}

	for p.at(token.PLUS) || p.at(token.MINUS) || p.at(token.OR) {
		op := p.tok.Type
		opPos := p.tok.Pos
		p.advance()
		rhsPos := p.tok.Pos
		rhs := p.parseTerm()

		if op == token.OR {
			if t.Base != types.BOOLEAN || t.Array || rhs.Base != types.BOOLEAN || rhs.Array {
				p.sink.Fatal(opPos, diag.KindScalarExpected, "boolean expected")
			}
			p.em.EmitLogical("OR")
			t = types.Bool()
			continue
		}
		if t.Base != types.INTEGER || t.Array {
			p.sink.Fatal(opPos, diag.KindScalarExpected, "integer expected")
		}
		if rhs.Base != types.INTEGER || rhs.Array {
			p.sink.Fatal(rhsPos, diag.KindScalarExpected, "integer expected")
		}
		if op == token.PLUS {
			p.em.EmitArith("+")
		} else {
			p.em.EmitArith("-")
		}
		t = types.Int()
	}
	return t
}

func (p *Parser) parseTerm() types.ValType {
	pos := p.tok.Pos
	t := p.parseFactor()

	for p.at(token.STAR) || p.at(token.SLASH) || p.at(token.REM) || p.at(token.AND) {
		op := p.tok.Type
		p.advance()
		rhsPos := p.tok.Pos
		rhs := p.parseFactor()

		if op == token.AND {
			if t.Base != types.BOOLEAN || t.Array || rhs.Base != types.BOOLEAN || rhs.Array {
				p.sink.Fatal(pos, diag.KindScalarExpected, "boolean expected")
			}
			p.em.EmitLogical("AND")
			t = types.Bool()
			continue
		}
		if t.Base != types.INTEGER || t.Array {
			p.sink.Fatal(pos, diag.KindScalarExpected, "integer expected")
		}
		if rhs.Base != types.INTEGER || rhs.Array {
			p.sink.Fatal(rhsPos, diag.KindScalarExpected, "integer expected")
		}
		switch op {
		case token.STAR:
			p.em.EmitArith("*")
		case token.SLASH:
			p.em.EmitArith("/")
		case token.REM:
			p.em.EmitArith("REM")
		}
		t = types.Int()
	}
	return t
}

func (p *Parser) parseFactor() types.ValType {
	switch p.tok.Type {
	case token.ID:
		return p.parseIDFactor()

	case token.NUMBER:
		lit := p.tok.Literal
		p.advance()
		p.em.EmitConstInt(lit)
		return types.Int()

	case token.LPAREN:
		p.advance()
		t := p.parseExpr()
		p.expect(token.RPAREN, ")")
		return t

	case token.NOT:
		p.advance()
		pos := p.tok.Pos
		t := p.parseFactor()
		if t.Base != types.BOOLEAN || t.Array {
			p.sink.Fatal(pos, diag.KindScalarExpected, "boolean expected")
		}
		p.em.EmitNot()
		return types.Bool()

	case token.TRUE:
		p.advance()
		p.em.EmitConstBool(true)
		return types.Bool()

	case token.FALSE:
		p.advance()
		p.em.EmitConstBool(false)
		return types.Bool()

	default:
		p.sink.FatalExpected(p.tok.Pos, "factor", p.tok.Type)
		return types.None()
	}
}

func (p *Parser) parseIDFactor() types.ValType {
	pos := p.tok.Pos
	name := p.tok.Literal
	p.advance()
	prop := p.lookupOrFail(name, pos)

	if p.at(token.LBRACKET) {
		if !prop.Type.IsArray() {
			p.sink.Fatal(pos, diag.KindNotAnArray, name)
		}
		p.em.EmitLoadVar(prop.Offset, prop.Type)
		p.advance()
		idxPos := p.tok.Pos
		idxType := p.parseSimple()
		if idxType.Base != types.INTEGER || idxType.Array {
			p.sink.Fatal(idxPos, diag.KindScalarExpected, "array index must be integer")
		}
		p.expect(token.RBRACKET, "]")
		p.em.EmitArrayLoad(prop.Type.Base)
		return types.ValType{Base: prop.Type.Base}
	}

	if p.at(token.LPAREN) {
		if !prop.Type.IsCallable() {
			p.sink.Fatal(pos, diag.KindNotAFunction, name)
		}
		if !prop.Type.IsFunction() {
			p.sink.Fatal(pos, diag.KindNotAFunction, name)
		}
		p.parseArgsAndCall(pos, name, prop)
		return prop.Type.ReturnType()
	}

	if prop.Type.IsCallable() {
		p.sink.Fatal(pos, diag.KindNotAVariable, name)
	}
	// A bare array name is a legal factor: it denotes the whole array
	// reference, used by whole-array assignment and array-valued leave.
	// Contexts that need a scalar reject it through their own operand
	// checks.
	p.em.EmitLoadVar(prop.Offset, prop.Type)
	return prop.Type
}
