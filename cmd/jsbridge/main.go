// Command jsbridge runs a script file through the bridge, the way an
// embedding host would, and prints the result and console output.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cryguy/jsbridge"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func main() {
	var (
		file       = flag.String("file", "", "Script to run (use - for stdin)")
		origin     = flag.String("origin", "", "Origin reported in stack traces (default: file name)")
		call       = flag.String("call", "", "Global function to invoke after the script ran (optional)")
		callArgs   = flag.String("args", "[]", "JSON array of plain arguments for -call")
		timeout    = flag.Duration("timeout", 5*time.Second, "Per-call execution timeout (0 = none)")
		heap       = flag.Int64("heap", 64<<20, "Engine heap ceiling in bytes (0 = unlimited)")
		typescript = flag.Bool("ts", false, "Treat the script as TypeScript")
		cacheDir   = flag.String("cache", "", "Directory for the persistent script cache (optional)")
		verbose    = flag.Bool("v", false, "Log bridge activity to stderr")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: jsbridge -file <script.js> [-call name -args '[1,2]'] [-timeout 5s] [-ts]")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			jsbridge.SetLogger(logger)
			defer logger.Sync()
		}
	}

	opts := options{
		file:       *file,
		origin:     *origin,
		call:       *call,
		callArgs:   *callArgs,
		timeout:    *timeout,
		heap:       *heap,
		typescript: *typescript,
		cacheDir:   *cacheDir,
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

type options struct {
	file, origin, call, callArgs string
	timeout                      time.Duration
	heap                         int64
	typescript                   bool
	cacheDir                     string
}

func run(opts options) error {
	ctx := context.Background()

	source, err := readSource(opts.file)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if opts.origin == "" {
		opts.origin = filepath.Base(opts.file)
		if opts.file == "-" {
			opts.origin = "stdin.js"
		}
		if opts.typescript && !strings.HasSuffix(opts.origin, ".ts") {
			opts.origin += ".ts"
		}
	}

	platform := jsbridge.NewPlatform()
	pcfg := jsbridge.PlatformConfig{
		CacheDir:     opts.cacheDir,
		CacheEntries: 64,
		Defaults:     jsbridge.DefaultConfig(),
	}
	// a zero instance timeout inherits the default, so "none" has to be
	// the default too
	if opts.timeout == 0 {
		pcfg.Defaults.ExecutionTimeoutMs = 0
	}
	if err := platform.Initialize(pcfg); err != nil {
		return err
	}
	defer platform.Shutdown(ctx)

	cfg := jsbridge.DefaultConfig()
	cfg.ExecutionTimeoutMs = opts.timeout.Milliseconds()
	cfg.MaxHeapBytes = opts.heap
	cfg.TypeScript = opts.typescript
	cfg.ScriptSourceOrigin = opts.origin
	in, err := platform.CreateInstance(cfg)
	if err != nil {
		return err
	}

	if err := registerHostFunctions(ctx, in); err != nil {
		return err
	}

	unit, err := in.LoadScript(ctx, source, opts.origin)
	if err != nil {
		return err
	}
	result, err := in.Execute(ctx, unit)
	printLogs(in)
	if err != nil {
		return err
	}

	if opts.call != "" {
		args, err := parseArgs(opts.callArgs)
		if err != nil {
			return fmt.Errorf("parse -args: %w", err)
		}
		result, err = in.InvokeGlobal(ctx, opts.call, args)
		printLogs(in)
		if err != nil {
			return err
		}
	}

	fmt.Println(result.String())
	return nil
}

func readSource(file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// registerHostFunctions exposes a small host API to scripts run from the
// command line.
func registerHostFunctions(ctx context.Context, in *jsbridge.Instance) error {
	env := func(_ context.Context, args []jsbridge.Value) (jsbridge.Value, error) {
		if len(args) == 0 {
			return jsbridge.Null, errors.New("env(name) requires a name")
		}
		name, err := jsbridge.DecodeString(args[0])
		if err != nil {
			return jsbridge.Null, err
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return jsbridge.Null, nil
		}
		return jsbridge.String(v), nil
	}
	if err := in.RegisterHostFunction(ctx, "env", env); err != nil {
		return fmt.Errorf("register env: %w", err)
	}

	readFile := func(_ context.Context, args []jsbridge.Value) (jsbridge.Value, error) {
		if len(args) == 0 {
			return jsbridge.Null, errors.New("readFile(path) requires a path")
		}
		path, err := jsbridge.DecodeString(args[0])
		if err != nil {
			return jsbridge.Null, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return jsbridge.Null, err
		}
		return jsbridge.Bytes(data), nil
	}
	if err := in.RegisterHostFunction(ctx, "readFile", readFile); err != nil {
		return fmt.Errorf("register readFile: %w", err)
	}
	return nil
}

// parseArgs converts a plain JSON array to call arguments. Nested
// objects and arrays are passed as JSON byte buffers.
func parseArgs(raw string) ([]jsbridge.Value, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, errors.New("malformed JSON")
	}
	list := gjson.Parse(raw)
	if !list.IsArray() {
		return nil, errors.New("arguments must be a JSON array")
	}
	var args []jsbridge.Value
	for i, item := range list.Array() {
		v, err := jsbridge.EncodePlainJSON(item.Raw)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func printLogs(in *jsbridge.Instance) {
	logs, dropped := in.DrainLogs()
	for _, e := range logs {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Level, e.Message)
	}
	if dropped > 0 {
		fmt.Fprintf(os.Stderr, "(%d console entries dropped)\n", dropped)
	}
}

func exitCode(err error) int {
	switch jsbridge.KindOf(err) {
	case "CompileError":
		return 2
	case "Timeout":
		return 3
	}
	return 1
}
