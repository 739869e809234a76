package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/skylightd/skylight/pkg/bridge"
	"github.com/skylightd/skylight/pkg/packet"
)

func workerCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the helper side of the subprocess bridge",
		Long: `Run a bridge helper speaking the packet protocol on stdin and
stdout. Normally spawned by "skylight call"; logs go to stderr so the
protocol stream stays clean.

Exposed methods, each answering with a "result" signal:
  echo   the same arguments back
  sum    the numeric sum of the arguments
  info   process details (pid, runtime, uptime)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level instead of warn")

	return cmd
}

func runWorker(verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	start := time.Now()
	var ce *bridge.Callee

	methods := map[string]bridge.Method{
		"echo": func(args []any) error {
			return ce.Emit("result", args...)
		},
		"sum": func(args []any) error {
			var total float64
			integral := true
			for i, a := range args {
				f := packet.V(a).FloatDefault(math.NaN())
				if math.IsNaN(f) {
					return fmt.Errorf("argument %d is not a number", i)
				}
				if f != math.Trunc(f) {
					integral = false
				}
				total += f
			}
			if integral && math.Abs(total) < 1<<53 {
				return ce.Emit("result", int64(total))
			}
			return ce.Emit("result", total)
		},
		"info": func(args []any) error {
			return ce.Emit("result", map[string]any{
				"pid":        os.Getpid(),
				"go_version": runtime.Version(),
				"os":         runtime.GOOS,
				"arch":       runtime.GOARCH,
				"uptime_ms":  time.Since(start).Milliseconds(),
				"version":    version,
			})
		},
	}

	ce = bridge.NewCallee(methods,
		bridge.WithCalleeLogger(log),
		bridge.WithErrorReplies(),
		bridge.WithSignalHandling(),
	)
	return ce.Run(context.Background())
}
