// This is the main-driver for the ALAN-2022 compiler.
//
// It is deliberately thin: argument parsing, JASMIN_JAR lookup, file
// open/close and the external assembler invocation live here. flag.Bool
// and flag.Parse collect the options, then os/exec pipes stdin/stdout/
// stderr straight through to the external Jasmin assembler jar.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/skx/alan-compiler/diag"
	"github.com/skx/alan-compiler/parser"
)

func main() {
	//
	// Look for flags.
	//
	debug := flag.Bool("debug", false, "Insert debug markers in the generated assembly.")
	flag.Parse()

	//
	// Ensure we have a source file as our single argument.
	//
	if len(flag.Args()) != 1 {
		fmt.Printf("Usage: alanc [-debug] <source-file>\n")
		os.Exit(1)
	}
	source := flag.Args()[0]

	//
	// The external assembler is required before we even start parsing.
	//
	jar := os.Getenv("JASMIN_JAR")
	if jar == "" {
		fmt.Printf("%s: %s\n", source, diag.KindJasminJarUnset)
		os.Exit(1)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		fmt.Printf("%s: %s: %s\n", source, diag.KindCannotOpenSource, err)
		os.Exit(1)
	}

	//
	// Compile. Fatal diagnostics raised from anywhere in the pipeline
	// surface here as a plain error, per diag.Recover.
	//
	sink := diag.New(source)

	var out string
	var compileErr error
	func() {
		defer diag.Recover(&compileErr)
		out = parser.Parse(string(data), sink, *debug)
	}()
	if compileErr != nil {
		fmt.Println(compileErr)
		os.Exit(1)
	}

	outPath := classNameOf(out) + ".j"
	if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
		fmt.Printf("%s: %s: %s\n", source, diag.KindCannotWriteOutput, err)
		os.Exit(1)
	}

	//
	// Assemble the program, via the external Jasmin jar.
	//
	jasmin := exec.Command("java", "-jar", jar, outPath)
	jasmin.Stdin = os.Stdin
	jasmin.Stdout = os.Stdout
	jasmin.Stderr = os.Stderr

	err = jasmin.Run()
	if err != nil {
		fmt.Printf("%s: %s: %s\n", source, diag.KindAssemblerFailed, err)
		os.Exit(1)
	}
}

// classNameOf extracts the class name from the ".class public <name>" line
// the emitter always writes first, to name the output "<class>.j".
func classNameOf(asm string) string {
	for _, line := range strings.Split(asm, "\n") {
		if strings.HasPrefix(line, ".class public ") {
			return strings.TrimSpace(strings.TrimPrefix(line, ".class public "))
		}
	}
	return "a"
}
