//go:build !no_automation

// Package automation runs user Lua scripts that react to item changes and
// panel events. Each script gets its own VM; handlers run on the VM's
// goroutine.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"

	lua "github.com/yuin/gopher-lua"
)

// Origin marks item writes made by scripts.
const Origin = "automation"

// Sender publishes panel commands.
type Sender interface {
	Send(topic string, cmds ...string)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

const (
	handlerItem  = "item"
	handlerPanel = "panel"
)

// luaHandler is a registered Lua callback. For item handlers pattern is a
// path.Match pattern; for panel handlers it is the event type.
type luaHandler struct {
	kind    string
	pattern string
	topic   string // panel handlers only; empty matches any panel
	fn      *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	id       string
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// capture collects log output during one-shot runs.
	capture func(string)
}

func (vm *scriptVM) addHandler(h luaHandler) {
	vm.mu.Lock()
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
}

func (vm *scriptVM) snapshot() []luaHandler {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]luaHandler(nil), vm.handlers...)
}

// post queues fn onto the VM goroutine. It reports false when the VM is
// stopped or its queue is full.
func (vm *scriptVM) post(fn func(*lua.LState)) bool {
	select {
	case <-vm.ctx.Done():
		return false
	default:
	}
	select {
	case vm.commands <- fn:
		return true
	default:
		return false
	}
}

// Engine manages Lua VMs and feeds them item changes and panel events.
type Engine struct {
	items   items.Store
	bus     *panel.EventBus
	out     Sender
	manager *Manager
	logger  *slog.Logger

	systemCfg SystemConfig

	mu     sync.Mutex
	vms    map[string]*scriptVM // script ID -> running VM
	unsubs []func()
}

// NewEngine creates a new automation engine.
func NewEngine(store items.Store, bus *panel.EventBus, out Sender, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	return &Engine{
		items:     store,
		bus:       bus,
		out:       out,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		systemCfg: sysCfg,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to item changes and panel events and loads all enabled
// scripts.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.items != nil {
		e.unsubs = append(e.unsubs, e.items.Subscribe(e.dispatchChange))
	}
	if e.bus != nil {
		e.unsubs = append(e.unsubs, e.bus.OnAll(e.dispatchEvent))
	}
	e.mu.Unlock()

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels all VMs and unsubscribes.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil

	e.logger.Info("automation engine stopped")
}

// Running returns the number of running scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ScriptStatus describes one script on disk.
type ScriptStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Running     bool   `json:"running"`
}

// Status lists the scripts on disk and whether each is running.
func (e *Engine) Status() ([]ScriptStatus, error) {
	scripts, err := e.manager.List()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScriptStatus, 0, len(scripts))
	for _, s := range scripts {
		_, running := e.vms[s.ID]
		out = append(out, ScriptStatus{
			ID:          s.ID,
			Name:        s.Meta.Name,
			Description: s.Meta.Description,
			Enabled:     s.Meta.Enabled,
			Running:     running,
		})
	}
	return out, nil
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// Check compiles every script without running it.
func (e *Engine) Check() error {
	scripts, err := e.manager.List()
	if err != nil {
		return err
	}
	var errs []string
	for _, s := range scripts {
		L := lua.NewState()
		if _, err := L.LoadString(s.LuaCode); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.ID, err))
		}
		L.Close()
	}
	if len(errs) > 0 {
		return fmt.Errorf("script errors:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// RunScript executes a script in a temporary VM.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a temporary VM with a 5 second budget. Panel
// handlers the code registers are invoked once with a synthetic event; item
// handlers receive the current value of the matching items.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var logs []string
	var logMu sync.Mutex
	vm, L := e.newVM(ctx, cancel, "run")
	defer L.Close()
	L.SetContext(ctx)
	vm.capture = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}

	result := func(err error) *RunResult {
		logMu.Lock()
		defer logMu.Unlock()
		r := &RunResult{OK: err == nil, Logs: logs, Duration: time.Since(start).String()}
		if err != nil {
			r.Error = err.Error()
			if strings.Contains(r.Error, "context deadline exceeded") {
				r.Error = "timeout (5s)"
			}
		}
		return r
	}

	if err := L.DoString(code); err != nil {
		e.logger.Warn("script run error", "err", err)
		return result(err)
	}

	for _, h := range vm.snapshot() {
		var ev *lua.LTable
		switch h.kind {
		case handlerPanel:
			ev = panelEventTable(L, panel.Event{Type: h.pattern, Topic: h.topic})
		case handlerItem:
			if !strings.ContainsAny(h.pattern, "*?[") && e.items != nil {
				v, _ := e.items.Get(h.pattern)
				ev = changeTable(L, items.Change{Path: h.pattern, Value: v})
			} else {
				ev = changeTable(L, items.Change{Path: h.pattern})
			}
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return result(err)
		}
	}
	return result(nil)
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// newVM creates a sandboxed Lua state with the bridge modules registered.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, id string) (*scriptVM, *lua.LState) {
	L := lua.NewState()

	// Sandbox: remove dangerous libs and functions
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	vm := &scriptVM{
		id:       id,
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerItemsModule(L, vm, e)
	registerPanelModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm, L
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm, L := e.newVM(ctx, cancel, s.ID)

	// Top-level code registers the handlers.
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

func (e *Engine) running() []*scriptVM {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		out = append(out, vm)
	}
	return out
}

// dispatchChange routes an item change to matching item handlers. Changes
// made by scripts are not fed back.
func (e *Engine) dispatchChange(c items.Change) {
	if c.Origin == Origin {
		return
	}
	for _, vm := range e.running() {
		for _, h := range vm.snapshot() {
			if h.kind != handlerItem || !matchPath(h.pattern, c.Path) {
				continue
			}
			fn := h.fn
			if !vm.post(func(L *lua.LState) { e.call(L, vm.id, fn, changeTable(L, c)) }) {
				e.logger.Warn("script queue full or stopped, dropping change", "script", vm.id, "path", c.Path)
			}
		}
	}
}

// dispatchEvent routes a panel event to matching panel handlers.
func (e *Engine) dispatchEvent(ev panel.Event) {
	for _, vm := range e.running() {
		for _, h := range vm.snapshot() {
			if h.kind != handlerPanel || h.pattern != ev.Type {
				continue
			}
			if h.topic != "" && h.topic != ev.Topic {
				continue
			}
			fn := h.fn
			if !vm.post(func(L *lua.LState) { e.call(L, vm.id, fn, panelEventTable(L, ev)) }) {
				e.logger.Warn("script queue full or stopped, dropping event", "script", vm.id, "type", ev.Type)
			}
		}
	}
}

func matchPath(pattern, p string) bool {
	if pattern == p {
		return true
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}

func (e *Engine) call(L *lua.LState, id string, fn *lua.LFunction, args ...lua.LValue) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "script", id, "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		e.logger.Error("lua handler error", "script", id, "err", err)
	}
}

func changeTable(L *lua.LState, c items.Change) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("path", lua.LString(c.Path))
	t.RawSetString("value", goToLua(L, c.Value))
	t.RawSetString("old", goToLua(L, c.Old))
	if c.Origin != "" {
		t.RawSetString("origin", lua.LString(c.Origin))
	}
	if c.Source != "" {
		t.RawSetString("source", lua.LString(c.Source))
	}
	return t
}

func panelEventTable(L *lua.LState, ev panel.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(ev.Type))
	t.RawSetString("topic", lua.LString(ev.Topic))
	switch d := ev.Data.(type) {
	case nil:
	case panel.ButtonData:
		t.RawSetString("target", lua.LString(d.Target))
		t.RawSetString("action", lua.LString(d.Action))
		t.RawSetString("value", lua.LString(d.Value))
	default:
		t.RawSetString("data", goToLua(L, d))
	}
	return t
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to a Go value. Tables with only array keys
// become slices, all others maps.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any)
		val.ForEach(func(k, vv lua.LValue) {
			m[k.String()] = luaToGo(vv)
		})
		return m
	default:
		return nil
	}
}
