//go:build !no_automation

package automation

import (
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(topic string, cmds ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cmds {
		f.sent = append(f.sent, topic+" "+c)
	}
}

func (f *fakeSender) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestEngine(t *testing.T, store items.Store, out Sender) *Engine {
	t.Helper()
	e := NewEngine(store, panel.NewEventBus(testLogger()), out, newTestManager(t), testLogger(), SystemConfig{})
	t.Cleanup(e.Stop)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func itemString(store items.Store, p string) string {
	v, _ := store.Get(p)
	return items.String(v)
}

func TestItemsSetCarriesOrigin(t *testing.T) {
	store := items.NewMemoryStore()
	e := newTestEngine(t, store, nil)

	var got items.Change
	store.Subscribe(func(c items.Change) { got = c })

	res := e.RunLuaCode(`
		local ok = items.set("licht.og", 1)
		assert(ok)
		assert(items.get("licht.og") == 1)
		assert(items.get("missing") == nil)
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if got.Path != "licht.og" || got.Origin != Origin || got.Source != "script:run" {
		t.Errorf("change = %+v, want path licht.og origin %q source script:run", got, Origin)
	}
	if v, _ := items.Float(got.Value); v != 1 {
		t.Errorf("value = %v, want 1", got.Value)
	}
}

func TestRunLuaCodeCapturesLogs(t *testing.T) {
	e := newTestEngine(t, items.NewMemoryStore(), nil)

	res := e.RunLuaCode(`
		panel.log("hello")
		system.log("warn", "careful")
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"hello", "[warn] careful"}
	if !reflect.DeepEqual(res.Logs, want) {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	store := items.NewMemoryStore()
	store.Seed(map[string]any{"temp.wz": 21.5})
	out := &fakeSender{}
	e := newTestEngine(t, store, out)

	res := e.RunLuaCode(`
		items.on("temp.wz", function(c) panel.log(c.path .. "=" .. tostring(c.value)) end)
		panel.on("button", "nspanel1", function(ev) panel.send(ev.topic, "hello") end)
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "temp.wz=21.5" {
		t.Errorf("logs = %q", res.Logs)
	}
	if got := out.list(); !reflect.DeepEqual(got, []string{"nspanel1 hello"}) {
		t.Errorf("sent = %q", got)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	e := newTestEngine(t, items.NewMemoryStore(), nil)

	tests := []struct {
		name string
		code string
	}{
		{"syntax", `items.set(`},
		{"runtime", `error("boom")`},
		{"sandboxed os", `os.exit(1)`},
		{"bad pattern", `items.on("[", function() end)`},
		{"send without command", `panel.send("nspanel1")`},
		{"handler error", `panel.on("button", function() error("inner") end)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := e.RunLuaCode(tt.code); res.OK {
				t.Errorf("run %q: OK, want error", tt.code)
			}
		})
	}
}

func TestItemHandlers(t *testing.T) {
	store := items.NewMemoryStore()
	e := newTestEngine(t, store, nil)
	writeScript(t, e.manager, "mirror.lua", `
		items.on("licht.*", function(c)
			items.set("seen", c.path .. ":" .. c.origin)
			items.set("count", (items.get("count") or 0) + 1)
		end)
	`)
	e.Start()
	if e.Running() != 1 {
		t.Fatalf("running = %d, want 1", e.Running())
	}

	if err := store.Set("licht.og", true, panel.Origin, "nspanel1:RESULT"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "seen", func() bool { return itemString(store, "seen") == "licht.og:"+panel.Origin })

	// Non-matching paths and the script's own writes do not fire.
	if err := store.Set("heizung.wz", 20, "test", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := itemString(store, "count"); got != "1" {
		t.Errorf("count = %s, want 1", got)
	}
}

func TestPanelHandlers(t *testing.T) {
	out := &fakeSender{}
	e := newTestEngine(t, items.NewMemoryStore(), out)
	writeScript(t, e.manager, "buttons.lua", `
		panel.on("button", "nspanel1", function(ev)
			panel.send(ev.topic, ev.target .. "~" .. ev.action .. "~" .. ev.value)
		end)
		panel.on("panel_online", function(ev) panel.send(ev.topic, "online") end)
	`)
	e.Start()

	e.bus.Emit(panel.Event{Type: panel.EventButton, Topic: "nspanel2", Data: panel.ButtonData{Target: "x", Action: "OnOff", Value: "1"}})
	e.bus.Emit(panel.Event{Type: panel.EventButton, Topic: "nspanel1", Data: panel.ButtonData{Target: "scene", Action: "button"}})
	e.bus.Emit(panel.Event{Type: panel.EventOnline, Topic: "nspanel2"})

	waitFor(t, "two sends", func() bool { return len(out.list()) == 2 })
	got := out.list()
	want := map[string]bool{"nspanel1 scene~button~": true, "nspanel2 online": true}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected send %q", s)
		}
	}
}

func TestSystemAfter(t *testing.T) {
	store := items.NewMemoryStore()
	e := newTestEngine(t, store, nil)
	writeScript(t, e.manager, "later.lua", `system.after(0.01, function() items.set("later", "done") end)`)
	e.Start()

	waitFor(t, "delayed write", func() bool { return itemString(store, "later") == "done" })
}

func TestDisabledScriptsAndReload(t *testing.T) {
	store := items.NewMemoryStore()
	e := newTestEngine(t, store, nil)
	writeScript(t, e.manager, "off.lua", "-- {\"name\":\"Off\",\"enabled\":false}\nitems.set(\"off\", true)\n")
	writeScript(t, e.manager, "on.lua", "items.set(\"on\", true)\n")
	e.Start()

	if e.Running() != 1 {
		t.Fatalf("running = %d, want 1", e.Running())
	}
	if _, ok := store.Get("off"); ok {
		t.Error("disabled script ran")
	}

	e.StopScript("on")
	if e.Running() != 0 {
		t.Errorf("running after stop = %d, want 0", e.Running())
	}
	if err := e.ReloadScript("on"); err != nil {
		t.Fatal(err)
	}
	if e.Running() != 1 {
		t.Errorf("running after reload = %d, want 1", e.Running())
	}
	if err := e.ReloadScript("missing"); err == nil {
		t.Error("reload of missing script: expected error")
	}
}

func TestCheck(t *testing.T) {
	e := newTestEngine(t, items.NewMemoryStore(), nil)
	writeScript(t, e.manager, "good.lua", `items.on("*", function(c) end)`)
	if err := e.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	writeScript(t, e.manager, "bad.lua", `items.on("*", function(c)`)
	err := e.Check()
	if err == nil || !strings.Contains(err.Error(), "bad:") {
		t.Errorf("Check = %v, want error naming bad", err)
	}
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`_v = {1, "two", true}`); err != nil {
		t.Fatal(err)
	}
	if got, want := luaToGo(L.GetGlobal("_v")), []any{1.0, "two", true}; !reflect.DeepEqual(got, want) {
		t.Errorf("array = %#v, want %#v", got, want)
	}

	if err := L.DoString(`_v = {mode = "heat", temp = 21}`); err != nil {
		t.Fatal(err)
	}
	if got, want := luaToGo(L.GetGlobal("_v")), map[string]any{"mode": "heat", "temp": 21.0}; !reflect.DeepEqual(got, want) {
		t.Errorf("map = %#v, want %#v", got, want)
	}

	if luaToGo(lua.LNil) != nil {
		t.Error("nil should map to nil")
	}
}

func TestStatus(t *testing.T) {
	e := newTestEngine(t, items.NewMemoryStore(), nil)
	writeScript(t, e.manager, "a.lua", "-- {\"name\":\"Alpha\",\"enabled\":true}\n")
	writeScript(t, e.manager, "b.lua", "-- {\"name\":\"Beta\",\"enabled\":false}\n")
	e.Start()

	got, err := e.Status()
	if err != nil {
		t.Fatal(err)
	}
	want := []ScriptStatus{
		{ID: "a", Name: "Alpha", Enabled: true, Running: true},
		{ID: "b", Name: "Beta", Enabled: false, Running: false},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("status = %+v, want %+v", got, want)
	}
}
