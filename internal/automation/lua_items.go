//go:build !no_automation

package automation

import (
	"path"

	lua "github.com/yuin/gopher-lua"
)

// registerItemsModule registers the `items` global table:
//
//	items.get(path)            -> value or nil
//	items.set(path, value)     -> true, or false and an error message
//	items.on(pattern, fn)      -- fn(change) on matching item changes
//	items.keys()               -> array of known item paths
func registerItemsModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		if e.items == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, ok := e.items.Get(p)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, v))
		return 1
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		p := L.CheckString(1)
		value := luaToGo(L.CheckAny(2))
		if e.items == nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString("no item store"))
			return 2
		}
		if err := e.items.Set(p, value, Origin, "script:"+vm.id); err != nil {
			e.logger.Warn("script item write failed", "script", vm.id, "path", p, "err", err)
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		pattern := L.CheckString(1)
		fn := L.CheckFunction(2)
		if _, err := path.Match(pattern, ""); err != nil {
			L.ArgError(1, "bad pattern: "+err.Error())
			return 0
		}
		vm.addHandler(luaHandler{kind: handlerItem, pattern: pattern, fn: fn})
		return 0
	}))

	mod.RawSetString("keys", L.NewFunction(func(L *lua.LState) int {
		t := L.NewTable()
		if e.items != nil {
			for i, k := range e.items.Keys() {
				t.RawSetInt(i+1, lua.LString(k))
			}
		}
		L.Push(t)
		return 1
	}))

	L.SetGlobal("items", mod)
}
