package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skylightd/skylight/pkg/packet"
)

const helperEnv = "SKYLIGHT_BRIDGE_HELPER"

// TestMain reroutes the test binary into helper mode when re-executed
// by the caller tests.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(helperMain())
	}
	os.Exit(m.Run())
}

// helperMain is the callee side, run inside the re-executed test
// binary and speaking the bridge protocol over stdio.
func helperMain() int {
	var ce *Callee
	ce = NewCallee(map[string]Method{
		"echo": func(args []any) error {
			return ce.Emit("echoed", args...)
		},
		"boom": func([]any) error {
			return errors.New("boom failed")
		},
		"die": func([]any) error {
			os.Exit(2)
			return nil
		},
	}, WithErrorReplies())
	if err := ce.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 1
	}
	return 0
}

func startHelper(t *testing.T) *Caller {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable() error = %v", err)
	}
	c := NewCaller(exe, nil, WithEnv(helperEnv+"=1"), WithStopGrace(3*time.Second))
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		c.Stop()
		c.Wait()
	})
	return c
}

func TestCallerEcho(t *testing.T) {
	c := startHelper(t)
	got := make(chan []any, 1)
	c.OnSignal("echoed", func(args []any) { got <- args })

	if err := c.Call("echo", "hello", int64(7)); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	select {
	case args := <-got:
		if len(args) != 2 {
			t.Fatalf("echoed %d args, want 2", len(args))
		}
		if s := packet.V(args[0]).Str(); s != "hello" {
			t.Errorf("args[0] = %v, want hello", args[0])
		}
		if n := packet.V(args[1]).Int(); n != 7 {
			t.Errorf("args[1] = %v, want 7", args[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestCallerWhitelistRejection(t *testing.T) {
	c := startHelper(t)
	errs := make(chan []any, 1)
	echoed := make(chan []any, 1)
	c.OnSignal(TypeError, func(args []any) { errs <- args })
	c.OnSignal("echoed", func(args []any) { echoed <- args })

	if err := c.Call("forbidden"); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	select {
	case args := <-errs:
		if len(args) != 2 || packet.V(args[1]).Str() != "forbidden" {
			t.Errorf("error args = %v, want [_, forbidden]", args)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error reply")
	}

	// The link survived the rejection.
	if err := c.Call("echo", "still-alive"); err != nil {
		t.Fatalf("Call() after rejection error = %v", err)
	}
	select {
	case <-echoed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo after rejection")
	}
}

func TestCallerStopClean(t *testing.T) {
	c := startHelper(t)
	var ends atomic.Int32
	endErr := make(chan error, 1)
	c.OnEnd(func(err error) {
		ends.Add(1)
		endErr <- err
	})

	c.Stop()
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	select {
	case err := <-endErr:
		if err != nil {
			t.Errorf("OnEnd error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnEnd not invoked")
	}

	c.Stop() // idempotent
	if n := ends.Load(); n != 1 {
		t.Errorf("OnEnd invoked %d times, want 1", n)
	}
}

func TestCallerCrashReported(t *testing.T) {
	c := startHelper(t)
	if err := c.Call("die"); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	err := c.Wait()
	if err == nil {
		t.Fatal("Wait() = nil after helper crash, want error")
	}
	var be *BridgeError
	if !errors.As(err, &be) {
		t.Errorf("Wait() error type = %T, want *BridgeError", err)
	}
}

func TestCallerLateOnEnd(t *testing.T) {
	c := startHelper(t)
	c.Stop()
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// Registration after the terminal event fires immediately.
	fired := make(chan error, 1)
	c.OnEnd(func(err error) { fired <- err })
	select {
	case err := <-fired:
		if err != nil {
			t.Errorf("OnEnd error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("late OnEnd not invoked")
	}
}
