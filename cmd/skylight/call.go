package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skylightd/skylight/internal/errors"
	"github.com/skylightd/skylight/pkg/bridge"
	"github.com/skylightd/skylight/pkg/packet"
)

func callCmd() *cobra.Command {
	var (
		helper  string
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "call <method> [args...]",
		Short: "Invoke a method on a helper subprocess",
		Long: `Spawn a bridge helper, invoke one whitelisted method, print the
result, and stop the helper cooperatively.

Arguments are parsed as JSON where possible (42, 3.5, true, "text",
[1,2]); anything that does not parse is passed as a plain string.

Examples:
  skylight call echo hello world
  skylight call sum 1 2 3.5
  skylight call info`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(args[0], args[1:], helper, timeout, verbose)
		},
	}

	cmd.Flags().StringVar(&helper, "helper", "", "Helper binary to spawn (default: this executable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the result")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging, here and in the helper")

	return cmd
}

func runCall(method string, rawArgs []string, helper string, timeout time.Duration, verbose bool) error {
	path := helper
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		path = exe
	}

	args := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		args[i] = parseArg(raw)
	}

	level := slog.LevelWarn
	workerArgs := []string{"worker"}
	if verbose {
		level = slog.LevelDebug
		workerArgs = append(workerArgs, "--verbose")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	caller := bridge.NewCaller(path, workerArgs, bridge.WithCallerLogger(log))

	results := make(chan []any, 1)
	caller.OnSignal("result", func(args []any) {
		select {
		case results <- args:
		default:
		}
	})
	rejections := make(chan []any, 1)
	caller.OnSignal(bridge.TypeError, func(args []any) {
		select {
		case rejections <- args:
		default:
		}
	})
	ended := make(chan error, 1)
	caller.OnEnd(func(err error) { ended <- err })

	if err := caller.Start(); err != nil {
		return errors.FromError(err, errors.CategoryBridge).
			WithSuggestion("Is the helper binary on disk and executable?")
	}

	if err := caller.Call(method, args...); err != nil {
		caller.Stop()
		caller.Wait()
		return errors.FromError(err, errors.CategoryBridge)
	}

	select {
	case res := <-results:
		printResult(res)
	case rej := <-rejections:
		caller.Stop()
		caller.Wait()
		return errors.Newf(errors.CategoryBridge, "helper reported an error: %s", packet.V(argAt(rej, 0)).Str()).
			WithSuggestion(`List the available methods with "skylight worker --help"`)
	case err := <-ended:
		if err != nil {
			return errors.FromError(err, errors.CategoryBridge)
		}
		return errors.New(errors.CategoryBridge, "helper ended before answering")
	case <-time.After(timeout):
		caller.Stop()
		caller.Wait()
		return errors.Newf(errors.CategoryBridge, "no result within %s", timeout).
			WithSuggestion("Raise --timeout, or check the helper's stderr output")
	}

	caller.Stop()
	if err := caller.Wait(); err != nil {
		log.Warn("helper exited uncleanly", "error", err)
	}
	return nil
}

// parseArg interprets a command-line argument as JSON, falling back to
// the raw string. "42" becomes a number, "hello" stays a string.
func parseArg(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func printResult(args []any) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = renderArg(a)
	}
	fmt.Println(strings.Join(parts, " "))
}

// renderArg prints strings bare and structured values as JSON.
func renderArg(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	if m := packet.V(v).Map(); m != nil {
		v = m
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
