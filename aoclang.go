// Package aoclang is the embeddable entry point to the AOCLang interpreter:
// lexer, parser, bytecode compiler and stack VM behind a single Run call.
package aoclang

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"aoclang/internal/bytecode"
	"aoclang/internal/compiler"
	"aoclang/internal/errors"
	"aoclang/internal/lexer"
	"aoclang/internal/loader"
	"aoclang/internal/parser"
	"aoclang/internal/vm"
)

type config struct {
	debug   bool
	stdin   io.Reader
	loader  loader.Loader
	baseDir string
}

type Option func(*config)

// WithDebug turns on the single-stepping trace stream. Tracing never
// changes program semantics.
func WithDebug() Option {
	return func(c *config) { c.debug = true }
}

// WithStdin supplies the reader backing the language's read() builtin.
func WithStdin(r io.Reader) Option {
	return func(c *config) { c.stdin = r }
}

// WithLoader overrides how `use` paths are fetched.
func WithLoader(ld loader.Loader) Option {
	return func(c *config) { c.loader = ld }
}

// WithBaseDir sets the directory `use` paths resolve against.
func WithBaseDir(dir string) Option {
	return func(c *config) { c.baseDir = dir }
}

// Run executes source and returns the captured stdout; in debug mode the
// returned text is the delimited trace stream with stdout interleaved.
// Partial output produced before a failure is returned alongside the error.
func Run(source string, opts ...Option) (string, error) {
	cfg := config{stdin: strings.NewReader(""), baseDir: "."}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out bytes.Buffer
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		return out.String(), annotate(err, source)
	}
	program, err := parser.NewParser(tokens).Parse()
	if err != nil {
		return out.String(), annotate(err, source)
	}
	chunk, err := compiler.NewCompiler(cfg.loader, cfg.baseDir).Compile(program)
	if err != nil {
		return out.String(), annotate(err, source)
	}

	machine := vm.NewVM(&out, cfg.stdin)
	var tracer *vm.Tracer
	if cfg.debug {
		tracer = vm.NewTracer(&out)
		tracer.Emit("Tokens", formatTokens(tokens))
		tracer.Emit("Expression", parser.Format(program))
		machine.SetTracer(tracer)
	}
	_, runErr := machine.Run(chunk)
	if tracer != nil {
		tracer.Summary(machine.InstructionCount())
	}
	if runErr != nil {
		return out.String(), annotate(runErr, source)
	}
	return out.String(), nil
}

// RunFile executes the program stored at path; `use` paths resolve relative
// to it.
func RunFile(path string, opts ...Option) (string, error) {
	src, err := (loader.FileLoader{}).Load(path)
	if err != nil {
		return "", err
	}
	opts = append([]Option{WithBaseDir(filepath.Dir(path))}, opts...)
	return Run(src, opts...)
}

// Compile lowers source to its top-level chunk without executing it. Used
// by the check and disasm commands.
func Compile(source, baseDir string) (*bytecode.Chunk, error) {
	tokens, err := lexer.NewScanner(source).ScanTokens()
	if err != nil {
		return nil, annotate(err, source)
	}
	program, err := parser.NewParser(tokens).Parse()
	if err != nil {
		return nil, annotate(err, source)
	}
	chunk, err := compiler.NewCompiler(nil, baseDir).Compile(program)
	if err != nil {
		return nil, annotate(err, source)
	}
	return chunk, nil
}

// annotate attaches the offending source line to span-carrying errors.
func annotate(err error, source string) error {
	e, ok := err.(*errors.Error)
	if !ok {
		return err
	}
	lines := strings.Split(source, "\n")
	if e.Span.Line >= 1 && e.Span.Line <= len(lines) {
		return e.WithSource(lines[e.Span.Line-1])
	}
	return e
}

func formatTokens(tokens []lexer.Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(tok.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
