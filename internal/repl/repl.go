// internal/repl/repl.go
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"aoclang/internal/compiler"
	"aoclang/internal/lexer"
	"aoclang/internal/parser"
	"aoclang/internal/vm"
)

// Start runs the interactive loop on stdin/stdout. Globals persist across
// lines: one VM and one compiler live for the whole session.
func Start() error {
	interactive := isatty.IsTerminal(os.Stdin.Fd())
	return Loop(os.Stdin, os.Stdout, interactive)
}

// Loop reads one expression per line, evaluates it and echoes the result
// prefixed by "-> ". A line with unbalanced delimiters starts multi-line
// entry, evaluated once the delimiters balance or when a blank line is
// entered.
func Loop(in io.Reader, out io.Writer, interactive bool) error {
	if interactive {
		fmt.Fprintln(out, "aoc-lang repl | ctrl-d to quit")
	}
	scanner := bufio.NewScanner(in)
	machine := vm.NewVM(out, in)
	comp := compiler.NewCompiler(nil, ".")

	var buffer string
	prompt := func() {
		if !interactive {
			return
		}
		if buffer == "" {
			fmt.Fprint(out, "> ")
		} else {
			fmt.Fprint(out, "... ")
		}
	}

	for prompt(); scanner.Scan(); prompt() {
		line := scanner.Text()
		if buffer == "" {
			if line == "" {
				continue
			}
			buffer = line
		} else {
			if line == "" {
				// blank line forces evaluation of a multi-line entry
				evaluate(machine, comp, buffer, out)
				buffer = ""
				continue
			}
			buffer += "\n" + line
		}
		if openDelimiters(buffer) > 0 {
			continue
		}
		evaluate(machine, comp, buffer, out)
		buffer = ""
	}
	if buffer != "" {
		evaluate(machine, comp, buffer, out)
	}
	return scanner.Err()
}

func evaluate(machine *vm.VM, comp *compiler.Compiler, source string, out io.Writer) {
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	program, err := parser.NewParser(tokens).Parse()
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	chunk, err := comp.Compile(program)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	result, err := machine.Run(chunk)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	fmt.Fprintf(out, "-> %s\n", vm.ToString(result))
}

// openDelimiters counts unclosed (, [ and { in the entered text. String
// contents are ignored so a ")" inside quotes does not end the entry.
func openDelimiters(source string) int {
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		// let evaluation surface the error
		return 0
	}
	depth := 0
	for _, tok := range tokens {
		switch tok.Type {
		case lexer.TokenLParen, lexer.TokenLBracket, lexer.TokenLBrace, lexer.TokenObjBrace:
			depth++
		case lexer.TokenRParen, lexer.TokenRBracket, lexer.TokenRBrace:
			depth--
		}
	}
	return depth
}
