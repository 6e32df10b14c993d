// Package hostapi is a small native catalogue for scripts: console output,
// logging, a tick clock, resource introspection and internal table calls.
package hostapi

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wasmscripting "github.com/wippyai/wasm-scripting"
	"github.com/wippyai/wasm-scripting/linker"
)

// declarations lists the natives whose signatures fit WIT primitives.
const declarations = `
interface console {
	print: func(text: string);
	log-message: func(level: s32, message: string);
	get-tick-count: func() -> s64;
}
`

// Natives with pointer or size kinds.
var signatures = map[string]string{
	"get_resource_name": "x*x",
	"copy_string":       "*s",
	"call_internal":     "iii",
}

// Options configures the catalogue.
type Options struct {
	// Output receives print calls. Defaults to stdout.
	Output io.Writer
	// Now is the clock behind get_tick_count. Defaults to time.Now.
	Now func() time.Time
}

type catalogue struct {
	out   io.Writer
	now   func() time.Time
	start time.Time
}

// Register adds the catalogue to r.
func Register(r *linker.Registry, opts Options) error {
	c := &catalogue{out: opts.Output, now: opts.Now}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.start = c.now()

	err := r.RegisterWIT(declarations, map[string]linker.NativeFunc{
		"print":          c.print,
		"log_message":    c.logMessage,
		"get_tick_count": c.tickCount,
	})
	if err != nil {
		return err
	}

	impls := map[string]linker.NativeFunc{
		"get_resource_name": c.resourceName,
		"copy_string":       c.copyString,
		"call_internal":     c.callInternal,
	}
	for name, sig := range signatures {
		if err := r.Register(name, sig, impls[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalogue) print(_ context.Context, env linker.Environment, args *linker.ArgumentStream) {
	text := args.ReadString("")
	if _, err := fmt.Fprintln(c.out, text); err != nil {
		Logger().Debug("print failed", zap.String("file", fileOf(env)), zap.Error(err))
	}
}

func (c *catalogue) logMessage(_ context.Context, env linker.Environment, args *linker.ArgumentStream) {
	level := zapcore.Level(args.ReadInt32(int32(zapcore.InfoLevel)))
	if level < zapcore.DebugLevel || level > zapcore.ErrorLevel {
		level = zapcore.InfoLevel
	}
	msg := args.ReadString("")
	if ce := Logger().Check(level, msg); ce != nil {
		ce.Write(zap.String("resource", resourceOf(env)), zap.String("file", fileOf(env)))
	}
}

func (c *catalogue) tickCount(_ context.Context, _ linker.Environment, args *linker.ArgumentStream) {
	args.ReturnInt64(c.now().Sub(c.start).Milliseconds())
}

// resourceName writes the NUL-terminated resource name into the caller's
// buffer, truncating to size, and returns the full name length.
func (c *catalogue) resourceName(_ context.Context, env linker.Environment, args *linker.ArgumentStream) {
	buf := args.ReadPointer(wasmscripting.NullAddress)
	size := args.ReadSize(0)
	name := resourceOf(env)

	if !buf.IsNull() && size > 0 {
		n := min(uint32(len(name)), size-1)
		out := make([]byte, n+1)
		copy(out, name[:n])
		if !ownsRange(env, buf, uint32(len(out))) || !args.WritePointer(buf, out) {
			args.ReturnNull("buffer outside script memory")
			return
		}
	}
	args.ReturnSize(uint32(len(name)))
}

// copyString duplicates a string into freshly allocated guest memory.
func (c *catalogue) copyString(ctx context.Context, env linker.Environment, args *linker.ArgumentStream) {
	text := args.ReadString("")
	mem := env.Script.Memory()
	if mem == nil {
		args.ReturnNull("script has no memory")
		return
	}
	args.ReturnPointer(mem.StringToGuest(ctx, text))
}

// callInternal calls the caller's internal function at slot with one int32.
func (c *catalogue) callInternal(ctx context.Context, env linker.Environment, args *linker.ArgumentStream) {
	slot := args.ReadUint32(0)
	arg := args.ReadInt32(0)
	res, err := env.Script.CallInternalFunction(ctx, slot, linker.Int32(arg))
	if err != nil {
		args.ReturnNull(err.Error())
		return
	}
	if len(res) == 0 {
		args.ReturnInt32(0)
		return
	}
	args.ReturnInt32(res[0].Int32())
}

// ownsRange reports whether [addr, addr+n) lies inside the calling script's
// own memory.
func ownsRange(env linker.Environment, addr wasmscripting.GuestAddress, n uint32) bool {
	if env.Script == nil || env.Script.Memory() == nil || n == 0 || uint64(addr)+uint64(n) > 1<<32 {
		return false
	}
	mem := env.Script.Memory()
	first, err := mem.Translate(addr)
	if err != nil {
		return false
	}
	last, err := mem.Translate(addr + wasmscripting.GuestAddress(n-1))
	if err != nil {
		return false
	}
	c := env.Script.Context()
	return c.ContainsPointer(first) && c.FindOwningScript(last) == env.Script
}

func fileOf(env linker.Environment) string {
	if env.Script == nil {
		return ""
	}
	return env.Script.FileName()
}

func resourceOf(env linker.Environment) string {
	if env.Script == nil || env.Script.Context() == nil {
		return ""
	}
	return env.Script.Context().Resource()
}
