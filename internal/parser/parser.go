// internal/parser/parser.go
package parser

import (
	"fmt"

	"aoclang/internal/errors"
	"aoclang/internal/lexer"
)

type Parser struct {
	tokens  []lexer.Token
	current int
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse consumes the whole token stream and returns the program as a single
// top-level Block expression.
func (p *Parser) Parse() (Expr, error) {
	var exprs []Expr
	for {
		p.skipEOL()
		if p.isAtEnd() {
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	span := errors.NewSpan(1, 1)
	if len(exprs) > 0 {
		span = exprs[0].Span().To(exprs[len(exprs)-1].Span())
	}
	return &Block{Exprs: exprs, NodeSpan: span}, nil
}

// parseSingle skips leading statement separators and parses one expression.
func (p *Parser) parseSingle() (Expr, error) {
	p.skipEOL()
	return p.parseExpr()
}

// --- Precedence levels, lowest to highest ---

// parseExpr handles right-associative assignment: =, +=, -=, *=, /=, %=.
func (p *Parser) parseExpr() (Expr, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	switch {
	case p.match(lexer.TokenEqual):
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &Assign{Target: left, Value: right, NodeSpan: left.Span().To(right.Span())}, nil
	case p.check(lexer.TokenPlusEq), p.check(lexer.TokenMinusEq),
		p.check(lexer.TokenStarEq), p.check(lexer.TokenSlashEq), p.check(lexer.TokenPercentEq):
		op := assignOps[p.advance().Type]
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &OpAssign{Op: op, Target: left, Value: right, NodeSpan: left.Span().To(right.Span())}, nil
	}
	return left, nil
}

var assignOps = map[lexer.TokenType]Op{
	lexer.TokenPlusEq:    OpAdd,
	lexer.TokenMinusEq:   OpSub,
	lexer.TokenStarEq:    OpMul,
	lexer.TokenSlashEq:   OpDiv,
	lexer.TokenPercentEq: OpMod,
}

func (p *Parser) parseOr() (Expr, error) {
	return p.parseBinaryLevel(
		map[lexer.TokenType]Op{lexer.TokenOr: OpOr},
		p.parseAnd,
	)
}

func (p *Parser) parseAnd() (Expr, error) {
	return p.parseBinaryLevel(
		map[lexer.TokenType]Op{lexer.TokenAnd: OpAnd},
		p.parseComparison,
	)
}

func (p *Parser) parseComparison() (Expr, error) {
	return p.parseBinaryLevel(
		map[lexer.TokenType]Op{
			lexer.TokenDoubleEqual: OpEq,
			lexer.TokenNotEqual:    OpNeq,
			lexer.TokenLT:          OpLt,
			lexer.TokenLE:          OpLeq,
			lexer.TokenGT:          OpGt,
			lexer.TokenGE:          OpGeq,
		},
		p.parseAdditive,
	)
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinaryLevel(
		map[lexer.TokenType]Op{lexer.TokenPlus: OpAdd, lexer.TokenMinus: OpSub},
		p.parseMultiplicative,
	)
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinaryLevel(
		map[lexer.TokenType]Op{lexer.TokenStar: OpMul, lexer.TokenSlash: OpDiv, lexer.TokenPercent: OpMod},
		p.parseUnary,
	)
}

func (p *Parser) parseBinaryLevel(ops map[lexer.TokenType]Op, next func() (Expr, error)) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := ops[p.peek().Type]
		if !ok {
			break
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right, NodeSpan: left.Span().To(right.Span())}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	return p.parsePrefixed(true)
}

// parsePrefixed parses prefix operators and a postfix chain. With
// allowAppend false the chain stops before '<<', so appends chain left.
func (p *Parser) parsePrefixed(allowAppend bool) (Expr, error) {
	var op Op
	switch p.peek().Type {
	case lexer.TokenPlus:
		op = OpLen
	case lexer.TokenMinus:
		op = OpNeg
	case lexer.TokenNot:
		op = OpNot
	default:
		return p.parsePostfix(allowAppend)
	}
	tok := p.advance()
	operand, err := p.parsePrefixed(allowAppend)
	if err != nil {
		return nil, err
	}
	return &Unary{Op: op, X: operand, NodeSpan: tok.Span.To(operand.Span())}, nil
}

// parsePostfix handles the chain of calls, indexing, slicing, field access
// and vector append.
func (p *Parser) parsePostfix(allowAppend bool) (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.match(lexer.TokenLParen):
			args, err := p.parseCommaSep(lexer.TokenRParen)
			if err != nil {
				return nil, err
			}
			end, err := p.consume(lexer.TokenRParen, "expected ')' after arguments")
			if err != nil {
				return nil, err
			}
			expr = &Call{Callee: expr, Args: args, NodeSpan: expr.Span().To(end.Span)}
		case p.match(lexer.TokenLBracket):
			first, err := p.parseSingle()
			if err != nil {
				return nil, err
			}
			if p.match(lexer.TokenComma) {
				second, err := p.parseSingle()
				if err != nil {
					return nil, err
				}
				end, err := p.consume(lexer.TokenRBracket, "expected ']' after slice")
				if err != nil {
					return nil, err
				}
				expr = &Slice{X: expr, Low: first, High: second, NodeSpan: expr.Span().To(end.Span)}
			} else {
				end, err := p.consume(lexer.TokenRBracket, "expected ']' after index")
				if err != nil {
					return nil, err
				}
				expr = &Index{X: expr, Key: first, NodeSpan: expr.Span().To(end.Span)}
			}
		case p.match(lexer.TokenDot):
			name, err := p.consume(lexer.TokenIdent, "expected field name after '.'")
			if err != nil {
				return nil, err
			}
			expr = &Field{X: expr, Name: name.Lexeme, NodeSpan: expr.Span().To(name.Span)}
		case allowAppend && p.match(lexer.TokenAppend):
			right, err := p.parsePrefixed(false)
			if err != nil {
				return nil, err
			}
			expr = &Binary{Op: OpAppend, Left: expr, Right: right, NodeSpan: expr.Span().To(right.Span())}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseAtom() (Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case lexer.TokenNil:
		return &NilLit{NodeSpan: tok.Span}, nil
	case lexer.TokenInt:
		return &IntLit{Value: tok.Int, NodeSpan: tok.Span}, nil
	case lexer.TokenFloat:
		return &FloatLit{Value: tok.Float, NodeSpan: tok.Span}, nil
	case lexer.TokenString:
		return &StrLit{Value: tok.Str, NodeSpan: tok.Span}, nil
	case lexer.TokenIdent:
		return &Ident{Name: tok.Lexeme, NodeSpan: tok.Span}, nil
	case lexer.TokenLParen:
		expr, err := p.parseSingle()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenRParen, "expected ')' after expression"); err != nil {
			return nil, err
		}
		return expr, nil
	case lexer.TokenLBracket:
		return p.parseVecLit(tok)
	case lexer.TokenObjBrace:
		return p.parseObjLit(tok)
	case lexer.TokenLBrace:
		return p.parseBlock(tok)
	case lexer.TokenIf:
		return p.parseIf(tok)
	case lexer.TokenWhile:
		return p.parseWhile(tok)
	case lexer.TokenFor:
		return p.parseFor(tok)
	case lexer.TokenFn:
		return p.parseFnDef(tok)
	case lexer.TokenReturn:
		return p.parseReturn(tok)
	case lexer.TokenUse:
		return p.parseUse(tok)
	case lexer.TokenPrint:
		return p.parsePrint(tok)
	case lexer.TokenRead:
		if _, err := p.consume(lexer.TokenLParen, "expected '(' after read"); err != nil {
			return nil, err
		}
		end, err := p.consume(lexer.TokenRParen, "expected ')' after read")
		if err != nil {
			return nil, err
		}
		return &Read{NodeSpan: tok.Span.To(end.Span)}, nil
	}
	return nil, errors.NewParseError(
		fmt.Sprintf("unexpected token %q in expression", tok.Lexeme),
		tok.Span,
	)
}

func (p *Parser) parseVecLit(start lexer.Token) (Expr, error) {
	elems, err := p.parseCommaSep(lexer.TokenRBracket)
	if err != nil {
		return nil, err
	}
	end, err := p.consume(lexer.TokenRBracket, "expected ']' after vector elements")
	if err != nil {
		return nil, err
	}
	return &VecLit{Elems: elems, NodeSpan: start.Span.To(end.Span)}, nil
}

// parseObjLit parses {= k1=v1, k2=v2 } with arbitrary key expressions.
func (p *Parser) parseObjLit(start lexer.Token) (Expr, error) {
	var keys, vals []Expr
	for {
		p.skipEOL()
		if p.check(lexer.TokenRBrace) {
			break
		}
		key, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenEqual, "expected '=' after object key"); err != nil {
			return nil, err
		}
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		vals = append(vals, val)
		if !p.match(lexer.TokenComma) {
			p.skipEOL()
			break
		}
	}
	end, err := p.consume(lexer.TokenRBrace, "expected '}' after object literal")
	if err != nil {
		return nil, err
	}
	return &ObjLit{Keys: keys, Vals: vals, NodeSpan: start.Span.To(end.Span)}, nil
}

func (p *Parser) parseBlock(start lexer.Token) (Expr, error) {
	var exprs []Expr
	for {
		p.skipEOL()
		if p.check(lexer.TokenRBrace) || p.isAtEnd() {
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	end, err := p.consume(lexer.TokenRBrace, "expected '}' after block")
	if err != nil {
		return nil, err
	}
	return &Block{Exprs: exprs, NodeSpan: start.Span.To(end.Span)}, nil
}

func (p *Parser) parseIf(start lexer.Token) (Expr, error) {
	cond, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	then, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	node := &If{Cond: cond, Then: then, NodeSpan: start.Span.To(then.Span())}
	if p.match(lexer.TokenElse) {
		node.Else, err = p.parseSingle()
		if err != nil {
			return nil, err
		}
		node.NodeSpan = start.Span.To(node.Else.Span())
	}
	return node, nil
}

func (p *Parser) parseWhile(start lexer.Token) (Expr, error) {
	cond, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return &While{Cond: cond, Body: body, NodeSpan: start.Span.To(body.Span())}, nil
}

func (p *Parser) parseFor(start lexer.Token) (Expr, error) {
	init, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	cond, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	step, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return &For{Init: init, Cond: cond, Step: step, Body: body, NodeSpan: start.Span.To(body.Span())}, nil
}

func (p *Parser) parseFnDef(start lexer.Token) (Expr, error) {
	if _, err := p.consume(lexer.TokenLParen, "expected '(' after fn"); err != nil {
		return nil, err
	}
	var params []string
	for {
		p.skipEOL()
		if p.check(lexer.TokenRParen) {
			break
		}
		name, err := p.consume(lexer.TokenIdent, "expected parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, name.Lexeme)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	if _, err := p.consume(lexer.TokenRParen, "expected ')' after parameters"); err != nil {
		return nil, err
	}
	body, err := p.parseSingle()
	if err != nil {
		return nil, err
	}
	return &FnDef{Params: params, Body: body, NodeSpan: start.Span.To(body.Span())}, nil
}

func (p *Parser) parseReturn(start lexer.Token) (Expr, error) {
	node := &Return{NodeSpan: start.Span}
	if !p.check(lexer.TokenEOL) && !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		node.Value = value
		node.NodeSpan = start.Span.To(value.Span())
	}
	return node, nil
}

func (p *Parser) parseUse(start lexer.Token) (Expr, error) {
	path, err := p.consume(lexer.TokenString, "expected file path string after use")
	if err != nil {
		return nil, err
	}
	return &Use{Path: path.Str, NodeSpan: start.Span.To(path.Span)}, nil
}

func (p *Parser) parsePrint(start lexer.Token) (Expr, error) {
	if _, err := p.consume(lexer.TokenLParen, "expected '(' after print"); err != nil {
		return nil, err
	}
	args, err := p.parseCommaSep(lexer.TokenRParen)
	if err != nil {
		return nil, err
	}
	end, err := p.consume(lexer.TokenRParen, "expected ')' after print arguments")
	if err != nil {
		return nil, err
	}
	return &Print{Args: args, NodeSpan: start.Span.To(end.Span)}, nil
}

// parseCommaSep parses comma-separated expressions up to (not including) the
// terminator. Newlines around elements are permitted.
func (p *Parser) parseCommaSep(terminator lexer.TokenType) ([]Expr, error) {
	var items []Expr
	for {
		p.skipEOL()
		if p.check(terminator) {
			break
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.match(lexer.TokenComma) {
			p.skipEOL()
			break
		}
	}
	return items, nil
}

// --- Utility methods ---

func (p *Parser) skipEOL() {
	for p.check(lexer.TokenEOL) {
		p.advance()
	}
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) (lexer.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	got := p.peek()
	return lexer.Token{}, errors.NewParseError(
		fmt.Sprintf("%s, got %q", msg, got.Lexeme),
		got.Span,
	)
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) advance() lexer.Token {
	tok := p.tokens[p.current]
	if !p.isAtEnd() {
		p.current++
	}
	return tok
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == lexer.TokenEOF
}
