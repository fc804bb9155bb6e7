//go:build !no_automation

package automation

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	lua "github.com/yuin/gopher-lua"
)

// SystemConfig holds configuration for the system Lua module.
type SystemConfig struct {
	ExecAllowlist []string      // allowed command paths
	ExecTimeout   time.Duration // timeout for exec commands
}

// registerSystemModule registers the `system` global table in a Lua state.
func registerSystemModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("strftime", L.NewFunction(systemStrftime))
	mod.RawSetString("time_between", L.NewFunction(systemTimeBetween))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return systemLog(L, vm, e)
	}))

	mod.RawSetString("exec", L.NewFunction(func(L *lua.LState) int {
		return systemExec(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return systemAfter(L, vm, e)
	}))

	L.SetGlobal("system", mod)
}

// system.datetime(component) returns a date/time component.
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	now := time.Now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "weekday":
		L.Push(lua.LNumber(now.Weekday()))
	case "day":
		L.Push(lua.LNumber(now.Day()))
	case "month":
		L.Push(lua.LNumber(now.Month()))
	case "year":
		L.Push(lua.LNumber(now.Year()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}

// system.time_between(from_hour, to_hour) reports whether the current hour is in range. Ranges may wrap midnight.
func systemTimeBetween(L *lua.LState) int {
	from := L.CheckInt(1)
	to := L.CheckInt(2)
	hour := time.Now().Hour()

	var result bool
	if from <= to {
		// Normal range: e.g. 8-22
		result = hour >= from && hour < to
	} else {
		// Midnight-wrapping range: e.g. 22-6
		result = hour >= from || hour < to
	}

	L.Push(lua.LBool(result))
	return 1
}

// system.strftime(format) formats the current local time, e.g. "%H:%M".
func systemStrftime(L *lua.LState) int {
	L.Push(lua.LString(strftime.Format(L.CheckString(1), time.Now())))
	return 1
}

// system.log(level, msg)
func systemLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)
	if vm.capture != nil {
		vm.capture("[" + level + "] " + msg)
	}

	switch level {
	case "debug":
		e.logger.Debug("script log", "script", vm.id, "msg", msg)
	case "warn":
		e.logger.Warn("script log", "script", vm.id, "msg", msg)
	case "error":
		e.logger.Error("script log", "script", vm.id, "msg", msg)
	default:
		e.logger.Info("script log", "script", vm.id, "msg", msg)
	}
	return 0
}

// system.exec(cmd) runs an allowlisted command and returns its stdout.
func systemExec(L *lua.LState, e *Engine) int {
	cmdStr := L.CheckString(1)

	// Parse command into binary + args
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		L.ArgError(1, "empty command")
		return 0
	}
	binary := parts[0]

	// Require absolute path
	if !filepath.IsAbs(binary) {
		e.logger.Warn("exec blocked: not an absolute path", "cmd", binary)
		L.Push(lua.LString(""))
		return 1
	}

	// Check allowlist
	allowed := false
	for _, a := range e.systemCfg.ExecAllowlist {
		if a == binary {
			allowed = true
			break
		}
	}
	if !allowed {
		e.logger.Warn("exec blocked: not in allowlist", "cmd", binary)
		L.Push(lua.LString(""))
		return 1
	}

	timeout := e.systemCfg.ExecTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, parts[1:]...)
	stdout, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.logger.Warn("exec timeout", "cmd", binary, "timeout", timeout)
		} else {
			e.logger.Warn("exec failed", "cmd", binary, "err", err)
		}
		L.Push(lua.LString(""))
		return 1
	}

	// Cap output at 64KB
	if len(stdout) > 65536 {
		stdout = stdout[:65536]
	}

	L.Push(lua.LString(string(stdout)))
	return 1
}

// system.after(seconds, fn) runs fn once on the script goroutine after the
// delay. Pending calls are dropped when the script stops.
func systemAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	secs := float64(L.CheckNumber(1))
	fn := L.CheckFunction(2)
	if secs < 0 {
		L.ArgError(1, "negative delay")
		return 0
	}
	d := time.Duration(secs * float64(time.Second))
	time.AfterFunc(d, func() {
		if !vm.post(func(L *lua.LState) { e.call(L, vm.id, fn) }) {
			e.logger.Debug("delayed call dropped", "script", vm.id)
		}
	})
	return 0
}
