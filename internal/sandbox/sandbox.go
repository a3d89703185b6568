// Package sandbox executes stored command code inside an embedded
// JavaScript runtime. Every execution gets a fresh runtime and event
// loop, with a fixed set of helper bindings injected into scope, and the
// code may use top-level await: it is wrapped in an async function whose
// settlement is bridged back to the caller.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// ValueStore is the slice of the key-value store exposed to scripts.
type ValueStore interface {
	GetRaw(ctx context.Context, key string) (string, bool, error)
	SetRaw(ctx context.Context, key, raw string) error
	Remove(ctx context.Context, key string) error
}

// Notifier is the notification surface exposed to scripts.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Sandbox runs command code with the helper bindings pre-bound.
type Sandbox struct {
	values   ValueStore
	notifier Notifier
	logger   *slog.Logger
	registry *require.Registry
	client   *http.Client
}

// New constructs a sandbox. Script console output is routed to logger.
func New(values ValueStore, notifier Notifier, logger *slog.Logger) *Sandbox {
	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(slogPrinter{logger: logger}))
	return &Sandbox{
		values:   values,
		notifier: notifier,
		logger:   logger,
		registry: registry,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type outcome struct {
	value any
	err   error
}

// Execute runs the code until its (possibly asynchronous) completion and
// returns the produced value. Errors thrown by the code, including
// rejected promises, surface as Go errors carrying the JS message and
// stack. Cancelling ctx interrupts the runtime.
func (s *Sandbox) Execute(ctx context.Context, code string) (any, error) {
	if code == "" {
		return nil, nil
	}
	prog, err := goja.Compile("command", wrapProgram(code), false)
	if err != nil {
		return nil, fmt.Errorf("compile command: %w", err)
	}

	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(s.registry),
		eventloop.EnableConsole(true),
	)
	loop.Start()
	defer loop.StopNoWait()

	resCh := make(chan outcome, 1)
	push := func(o outcome) {
		select {
		case resCh <- o:
		default:
		}
	}
	vmCh := make(chan *goja.Runtime, 1)

	loop.RunOnLoop(func(vm *goja.Runtime) {
		vmCh <- vm
		if err := s.bind(ctx, vm, push); err != nil {
			push(outcome{err: fmt.Errorf("prepare runtime: %w", err)})
			return
		}
		if _, err := vm.RunProgram(prog); err != nil {
			push(outcome{err: err})
		}
	})

	var vm *goja.Runtime
	select {
	case vm = <-vmCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-resCh:
		return out.value, out.err
	case <-ctx.Done():
		vm.Interrupt("execution canceled")
		return nil, ctx.Err()
	}
}

// wrapProgram turns the stored snippet into an async IIFE whose
// settlement is reported through the __resolve/__reject bindings.
func wrapProgram(code string) string {
	return ";(async () => {\n" + code + "\n})().then(\n" +
		"  (value) => { __resolve(value); },\n" +
		"  (err) => { __reject(err instanceof Error ? (err.stack || err.message) : String(err)); }\n" +
		");"
}

type slogPrinter struct {
	logger *slog.Logger
}

func (p slogPrinter) Log(msg string)   { p.logger.Info(msg, "source", "script") }
func (p slogPrinter) Warn(msg string)  { p.logger.Warn(msg, "source", "script") }
func (p slogPrinter) Error(msg string) { p.logger.Error(msg, "source", "script") }

func (s *Sandbox) bind(ctx context.Context, vm *goja.Runtime, push func(outcome)) error {
	if err := vm.Set("__resolve", func(v goja.Value) {
		var value any
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			value = v.Export()
		}
		push(outcome{value: value})
	}); err != nil {
		return err
	}
	if err := vm.Set("__reject", func(msg string) {
		push(outcome{err: errors.New(msg)})
	}); err != nil {
		return err
	}
	if err := vm.Set("__notify", func(title, body string) {
		if s.notifier == nil {
			return
		}
		if err := s.notifier.Send(ctx, title, body); err != nil {
			s.logger.Warn("script notification failed", "err", err)
		}
	}); err != nil {
		return err
	}
	if err := vm.Set("__kvGet", func(call goja.FunctionCall) goja.Value {
		raw, ok, err := s.values.GetRaw(ctx, call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(raw)
	}); err != nil {
		return err
	}
	if err := vm.Set("__kvSet", func(call goja.FunctionCall) goja.Value {
		if err := s.values.SetRaw(ctx, call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("__kvRemove", func(call goja.FunctionCall) goja.Value {
		if err := s.values.Remove(ctx, call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("__fetchText", func(call goja.FunctionCall) goja.Value {
		body, err := s.fetchText(ctx, call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(body)
	}); err != nil {
		return err
	}
	_, err := vm.RunProgram(preludeProg)
	return err
}

func (s *Sandbox) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	const maxBody = 4 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}
