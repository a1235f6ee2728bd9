package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"golang.org/x/term"

	cbqn "github.com/wippyai/cbqn-go"
	"github.com/wippyai/cbqn-go/errors"
)

var (
	codeFlag    = flag.String("e", "", "BQN source to evaluate")
	xFlag       = flag.String("x", "", "call the result with this string as 𝕩")
	wFlag       = flag.String("w", "", "call the result with this string as 𝕨 (requires -x)")
	configFlag  = flag.String("config", "", "YAML configuration file")
	backendFlag = flag.String("backend", "", "engine backend: "+strings.Join(cbqn.Backends(), ", "))
	wasmFlag    = flag.String("wasm", "", "CBQN WASI reactor (wasi backend)")
	interactive = flag.Bool("i", false, "interactive mode")
	historyFlag = flag.String("history", defaultHistoryPath(), "history database (empty disables history)")
	verbose     = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cbqn [options]\n\n")
		fmt.Fprintf(os.Stderr, "Evaluate BQN with the CBQN engine.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cbqn -e '1+1'\n")
		fmt.Fprintf(os.Stderr, "  cbqn -e '⌽≡⊢' -x racecar\n")
		fmt.Fprintf(os.Stderr, "  cbqn -e '∾' -w foo -x bar\n")
		fmt.Fprintf(os.Stderr, "  echo '+´↕10' | cbqn -wasm BQN.wasm\n")
		fmt.Fprintf(os.Stderr, "  cbqn -i\n")
	}
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = l.Sync() }()
		cbqn.SetLogger(l)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	args, err := callArgs(set)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cbqn.InitWithConfig(cfg); err != nil {
		return err
	}
	defer func() { _ = cbqn.Shutdown(ctx) }()

	if set["e"] {
		out, err := evaluate(*codeFlag, args...)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	if len(args) > 0 {
		return errors.InvalidInput(errors.PhaseCall, "-x and -w need -e")
	}

	if !*interactive && !(isTerminal(os.Stdin) && isTerminal(os.Stdout)) {
		return runLines(os.Stdin, os.Stdout, os.Stderr)
	}

	var hist *history
	if *historyFlag != "" {
		hist, err = openHistory(ctx, *historyFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
			hist = nil
		} else {
			defer hist.Close()
		}
	}
	return runInteractive(ctx, hist)
}

func callArgs(set map[string]bool) ([]any, error) {
	switch {
	case set["w"] && !set["x"]:
		return nil, errors.InvalidInput(errors.PhaseCall, "-w requires -x")
	case set["w"]:
		return []any{*wFlag, *xFlag}, nil
	case set["x"]:
		return []any{*xFlag}, nil
	}
	return nil, nil
}

func loadConfig() (cbqn.Config, error) {
	var cfg cbqn.Config
	if *configFlag != "" {
		loaded, err := cbqn.LoadConfig(*configFlag)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	} else {
		var err error
		if cfg, err = cbqn.DefaultConfig(); err != nil {
			return cfg, err
		}
	}
	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if *wasmFlag != "" {
		cfg.WasmPath = *wasmFlag
		if *backendFlag == "" {
			cfg.Backend = "wasi"
		}
	}
	return cfg, nil
}

// evaluate runs src, calls the result with args when given, and formats it.
func evaluate(src string, args ...any) (string, error) {
	v, err := cbqn.Run(src, args...)
	if err != nil {
		return "", err
	}
	defer v.Free()
	return v.Fmt()
}

// runLines evaluates each non-empty line of r. Failures are reported to
// errw and evaluation continues.
func runLines(r io.Reader, w, errw io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var total, failed int
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		total++
		out, err := evaluate(line)
		if err != nil {
			failed++
			fmt.Fprintf(errw, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(w, out)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d lines failed", failed, total)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) || isatty.IsCygwinTerminal(f.Fd())
}
