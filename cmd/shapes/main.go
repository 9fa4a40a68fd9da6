package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/objectmodel/access"
	"github.com/wippyai/objectmodel/assumption"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/pointer"
	"github.com/wippyai/objectmodel/shape"
)

func main() {
	var (
		script      = flag.String("script", "", "Script file to run (- for stdin)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Log shape graph activity to stderr")
	)
	flag.Parse()

	if *script == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: shapes -script <file> [-v]")
		fmt.Fprintln(os.Stderr, "       shapes -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Script commands:")
		for _, name := range []string{"new", "add", "set", "const", "del", "flags", "get", "show", "tree", "stats"} {
			fmt.Fprintf(os.Stderr, "  %-6s %s\n", name, usage[name])
		}
		os.Exit(1)
	}

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer l.Sync()
		setLoggers(l)
	}

	if *interactive {
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runScript(*script); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLoggers(l *zap.Logger) {
	assumption.SetLogger(l.Named("assumption"))
	shape.SetLogger(l.Named("shape"))
	object.SetLogger(l.Named("object"))
	access.SetLogger(l.Named("access"))
	pointer.SetLogger(l.Named("pointer"))
}

func runScript(path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}

	st := outputStyles()
	s := newSession(st)
	if err := s.run(r, os.Stdout); err != nil {
		return err
	}
	if s.root == nil {
		return nil
	}
	fmt.Println()
	fmt.Println(st.title.Render("Transitions"))
	fmt.Println(s.tree())
	return nil
}
