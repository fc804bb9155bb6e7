//go:build !no_automation

package automation

import (
	lua "github.com/yuin/gopher-lua"
)

// registerPanelModule registers the `panel` global table:
//
//	panel.on(type, [topic], fn)  -- fn(event) on panel events
//	panel.send(topic, cmd, ...)  -- raw CustomSend commands
//	panel.log(msg)
func registerPanelModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		eventType := L.CheckString(1)
		var topic string
		var fn *lua.LFunction
		if L.GetTop() >= 3 {
			topic = L.CheckString(2)
			fn = L.CheckFunction(3)
		} else {
			fn = L.CheckFunction(2)
		}
		vm.addHandler(luaHandler{kind: handlerPanel, pattern: eventType, topic: topic, fn: fn})
		return 0
	}))

	mod.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		topic := L.CheckString(1)
		n := L.GetTop()
		if n < 2 {
			L.ArgError(2, "command expected")
			return 0
		}
		cmds := make([]string, 0, n-1)
		for i := 2; i <= n; i++ {
			cmds = append(cmds, L.CheckString(i))
		}
		if e.out == nil {
			e.logger.Warn("panel.send without transport", "script", vm.id, "topic", topic)
			return 0
		}
		e.out.Send(topic, cmds...)
		return 0
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		if vm.capture != nil {
			vm.capture(msg)
		}
		e.logger.Info("script log", "script", vm.id, "msg", msg)
		return 0
	}))

	L.SetGlobal("panel", mod)
}
