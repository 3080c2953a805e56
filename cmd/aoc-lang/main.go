// cmd/aoc-lang/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"aoclang"
	"aoclang/internal/bytecode"
	"aoclang/internal/loader"
	"aoclang/internal/repl"
)

const version = "1.0.0"

func main() {
	debug := flag.Bool("debug", false, "emit the single-stepping trace stream")
	flag.Usage = showUsage
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		if err := repl.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	switch args[0] {
	case "help", "--help", "-h":
		showUsage()
		return
	case "version", "--version", "-v":
		fmt.Printf("aoc-lang %s\n", version)
		return
	case "check":
		if len(args) < 2 {
			fatal("usage: aoc-lang check <file>")
		}
		checkFile(args[1])
		return
	case "disasm":
		if len(args) < 2 {
			fatal("usage: aoc-lang disasm <file>")
		}
		disasmFile(args[1])
		return
	}

	runFile(args[0], *debug)
}

func runFile(path string, debug bool) {
	var opts []aoclang.Option
	if debug {
		opts = append(opts, aoclang.WithDebug())
	}
	opts = append(opts, aoclang.WithStdin(os.Stdin))
	out, err := aoclang.RunFile(path, opts...)
	fmt.Print(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkFile(path string) {
	src, err := (loader.FileLoader{}).Load(path)
	if err != nil {
		fatal(err.Error())
	}
	if _, err := aoclang.Compile(src, filepath.Dir(path)); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("%s: ok\n", path)
}

func disasmFile(path string) {
	src, err := (loader.FileLoader{}).Load(path)
	if err != nil {
		fatal(err.Error())
	}
	chunk, err := aoclang.Compile(src, filepath.Dir(path))
	if err != nil {
		fatal(err.Error())
	}
	printChunk(chunk)
}

// printChunk lists a chunk and, recursively, every function prototype in its
// constant pool.
func printChunk(chunk *bytecode.Chunk) {
	name := chunk.Name
	if name == "" {
		name = "fn"
	}
	fmt.Printf("=== Function %s ===\n", name)
	fmt.Print(bytecode.Disassemble(chunk, -1))
	if len(chunk.Constants) > 0 {
		fmt.Println("=== Constants ===")
		fmt.Print(bytecode.FormatConstants(chunk))
	}
	for _, c := range chunk.Constants {
		if proto, ok := c.(*bytecode.Chunk); ok {
			printChunk(proto)
		}
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func showUsage() {
	fmt.Println(`aoc-lang - the AOCLang interpreter

Usage:
  aoc-lang <file>          execute an .aoc program
  aoc-lang -debug <file>   execute with the single-stepping trace
  aoc-lang check <file>    parse and compile without running
  aoc-lang disasm <file>   print the compiled bytecode
  aoc-lang                 start the REPL
  aoc-lang version         print the version`)
}
