package dispatch

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/metrics"
	"nspanel-bridge/internal/pageconfig"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/render"
	"nspanel-bridge/internal/tasmota"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testConfig = `
config:
  screensaver_timeout: 20
cards:
  - pageType: cardEntities
    heading: Licht
    entities:
      - {entity: licht.eg.tv_wand_nische, type: light, name: TV Wand}
      - {entity: navigate.lights, name: Mehr}
      - {entity: light.detail, type: light, brightness_item: light.bri, max: 255, color_temp_item: light.ct, color_item: light.color}
      - {entity: scene, type: button}
  - key: climate
    pageType: cardThermo
    heading: Heizung
    entities:
      - {entity: heizung.wz, mode_item: heizung.wz.mode, min: 5, max: 30}
  - key: alarm
    pageType: cardAlarm
    heading: Alarm
    entities:
      - {entity: alarm.home, name: Home}
      - {entity: alarm.away, name: Away, password: "1234"}
  - key: music
    pageType: cardMedia
    heading: Musik
    entities:
      - {entity: player, command_item: player.cmd, shuffle_item: player.shuffle, volume_item: player.volume}
subpages:
  lights:
    pageType: cardGrid
    heading: Lights
    entities:
      - {entity: blind, type: shutter, command_item: blind.cmd, tilt_item: blind.tilt}
      - {entity: sel, type: input_select, options: [Movie, Reading]}
      - {entity: kitchen.timer, type: timer}
`

type sent struct {
	topic string
	cmds  []string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) Send(topic string, cmds ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{topic: topic, cmds: append([]string(nil), cmds...)})
}

func (f *fakeSender) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fixture struct {
	d       *Dispatcher
	store   *panel.Store
	items   *items.MemoryStore
	out     *fakeSender
	metrics *metrics.Metrics
	origin  tasmota.Origin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	doc, _, err := pageconfig.Parse([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}
	itemStore := items.NewMemoryStore()
	store := panel.NewStore(10*time.Second, nil, itemStore, panel.NewEventBus(logger), logger)
	r := render.New(doc, nil, itemStore, nil, logger)
	out := &fakeSender{}
	m := metrics.New(nil)
	d, err := New(store, r, itemStore, out, m, logger)
	if err != nil {
		t.Fatal(err)
	}
	d.SetClock(func() time.Time { return time.Date(2024, 3, 6, 7, 5, 0, 0, time.UTC) })
	return &fixture{d: d, store: store, items: itemStore, out: out, metrics: m, origin: tasmota.Origin{Device: "NSPanel1", Detail: "RESULT"}}
}

func (f *fixture) handle(raw string) []sent {
	f.d.Handle(f.origin, raw)
	return f.out.take()
}

// onPage puts the panel on card idx without the screensaver and drops the
// publishes that caused.
func (f *fixture) onPage(idx int, subpage string) {
	f.store.SetPage(f.origin.Device, idx, subpage)
	f.d.ShowPage(f.origin.Device)
	f.out.take()
}

func TestButtonPressRoundTrip(t *testing.T) {
	f := newFixture(t)

	got := f.handle("event,buttonPress2,licht.eg.tv_wand_nische,OnOff,1")
	if v, _ := f.items.Get("licht.eg.tv_wand_nische"); v != true {
		t.Fatalf("item = %v, want true", v)
	}
	if len(got) != 1 || got[0].topic != "NSPanel1" || len(got[0].cmds) != 1 {
		t.Fatalf("publishes = %+v, want one", got)
	}
	if !strings.HasPrefix(got[0].cmds[0], "entityUpd~Licht~") {
		t.Errorf("cmd = %q", got[0].cmds[0])
	}
	if !strings.Contains(got[0].cmds[0], "~TV Wand~1~") {
		t.Errorf("cmd does not show the light on: %q", got[0].cmds[0])
	}
	if n := testutil.ToFloat64(f.metrics.ItemWrite.WithLabelValues("OnOff")); n != 1 {
		t.Errorf("item writes = %v, want 1", n)
	}

	if got := f.handle("event,buttonPress2,licht.eg.tv_wand_nische,OnOff,1"); len(got) != 0 {
		t.Errorf("repeat published %+v, want nothing", got)
	}
}

func TestItemWritesCarryOrigin(t *testing.T) {
	f := newFixture(t)
	var changes []items.Change
	f.items.Subscribe(func(c items.Change) { changes = append(changes, c) })

	f.handle("event,buttonPress2,licht.eg.tv_wand_nische,OnOff,1")
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	if changes[0].Origin != panel.Origin || changes[0].Source != "NSPanel1:RESULT" {
		t.Errorf("origin = %q, source = %q", changes[0].Origin, changes[0].Source)
	}
}

func TestStartupSequence(t *testing.T) {
	f := newFixture(t)
	got := f.handle("event,startup,53,eu")
	if len(got) != 3 {
		t.Fatalf("publishes = %d, want 3: %+v", len(got), got)
	}
	if got[0].cmds[0] != "time~07:05" || !strings.HasPrefix(got[0].cmds[2], "timeout~20") {
		t.Errorf("startup = %q", got[0].cmds)
	}
	if got[1].cmds[0] != render.ScreensaverPageType {
		t.Errorf("second publish = %q, want screensaver switch", got[1].cmds)
	}
	rec, _ := f.store.Get("NSPanel1")
	if rec.PanelModel != "eu" || rec.DriverVersion != "53" || !rec.ScreensaverActive {
		t.Errorf("record = %+v", rec)
	}
}

func TestSleepAndWake(t *testing.T) {
	f := newFixture(t)
	f.onPage(1, "")

	got := f.handle("event,sleepReached,cardThermo")
	if len(got) != 2 || got[0].cmds[0] != render.ScreensaverPageType {
		t.Fatalf("sleep publishes = %+v", got)
	}
	if idx, _ := f.store.Page("NSPanel1"); idx != 0 {
		t.Errorf("page after sleep = %d, want 0", idx)
	}

	got = f.handle("event,buttonPress2,screensaver,bExit,1")
	if len(got) != 2 || got[0].cmds[0] != "pageType~cardEntities" {
		t.Fatalf("wake publishes = %+v", got)
	}
	if rec, _ := f.store.Get("NSPanel1"); rec.ScreensaverActive {
		t.Error("screensaver still active")
	}
}

func TestNavigation(t *testing.T) {
	tests := []struct {
		name    string
		from    int
		subpage string
		raw     string
		want    int
		wantSub string
		typ     string
	}{
		{"next", 0, "", "event,buttonPress2,cardEntities,bNext", 1, "", "cardThermo"},
		{"prev wraps", 0, "", "event,buttonPress2,cardEntities,bPrev", 3, "", "cardMedia"},
		{"next wraps", 3, "", "event,buttonPress2,cardMedia,bNext", 0, "", "cardEntities"},
		{"home", 2, "", "event,buttonPress2,cardAlarm,bHome", 0, "", "cardEntities"},
		{"navigate subpage", 0, "", "event,buttonPress2,navigate.lights,button", panel.PageSubpage, "lights", "cardGrid"},
		{"navigate card key", 0, "", "event,buttonPress2,navigate.alarm,button", 2, "", "cardAlarm"},
		{"exit on card", 2, "", "event,buttonPress2,cardAlarm,bExit", 0, "", "cardEntities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.onPage(tt.from, tt.subpage)
			got := f.handle(tt.raw)
			idx, sub := f.store.Page("NSPanel1")
			if idx != tt.want || sub != tt.wantSub {
				t.Errorf("page = %d %q, want %d %q", idx, sub, tt.want, tt.wantSub)
			}
			if len(got) != 2 || got[0].cmds[0] != "pageType~"+tt.typ {
				t.Errorf("publishes = %+v", got)
			}
		})
	}
}

func TestSubpageUpReturnsToParent(t *testing.T) {
	f := newFixture(t)
	f.onPage(1, "")
	f.handle("event,buttonPress2,navigate.lights,button")
	f.handle("event,buttonPress2,cardGrid,bUp")
	if idx, _ := f.store.Page("NSPanel1"); idx != 1 {
		t.Errorf("page = %d, want parent 1", idx)
	}

	f.handle("event,buttonPress2,navigate.lights,button")
	f.handle("event,buttonPress2,cardGrid,bNext")
	if idx, _ := f.store.Page("NSPanel1"); idx != 2 {
		t.Errorf("next from subpage = %d, want 2", idx)
	}
}

func TestSlidersDoNotRerender(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		item string
		want any
	}{
		{"brightness", "event,buttonPress2,light.detail,brightnessSlider,50", "light.bri", 127.0},
		{"color temp warm", "event,buttonPress2,light.detail,colorTempSlider,0", "light.ct", 500.0},
		{"color temp cold", "event,buttonPress2,light.detail,colorTempSlider,100", "light.ct", 153.0},
		{"color wheel center", "event,buttonPress2,light.detail,colorWheel,80|80|160", "light.color", "#ffffff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.onPage(0, "")
			if got := f.handle(tt.raw); len(got) != 0 {
				t.Errorf("publishes = %+v, want none", got)
			}
			if v, _ := f.items.Get(tt.item); v != tt.want {
				t.Errorf("%s = %v (%T), want %v", tt.item, v, v, tt.want)
			}
		})
	}
}

func TestEntityActions(t *testing.T) {
	tests := []struct {
		name    string
		page    int
		subpage string
		seed    map[string]any
		raw     string
		item    string
		want    any
	}{
		{"button toggles light", 0, "", map[string]any{"licht.eg.tv_wand_nische": true}, "event,buttonPress2,licht.eg.tv_wand_nische,button", "licht.eg.tv_wand_nische", false},
		{"button presses scene", 0, "", nil, "event,buttonPress2,scene,button", "scene", true},
		{"shutter command", panel.PageSubpage, "lights", nil, "event,buttonPress2,blind,stop", "blind.cmd", "stop"},
		{"tilt open", panel.PageSubpage, "lights", nil, "event,buttonPress2,blind,tiltOpen", "blind.tilt", 100.0},
		{"position", panel.PageSubpage, "lights", nil, "event,buttonPress2,blind,positionSlider,40", "blind", 40.0},
		{"select option", panel.PageSubpage, "lights", nil, "event,buttonPress2,sel,mode-input_sel,1", "sel", "Reading"},
		{"timer start", panel.PageSubpage, "lights", nil, "event,buttonPress2,kitchen.timer,timer-start,02:05", "kitchen.timer", 125.0},
		{"timer cancel", panel.PageSubpage, "lights", map[string]any{"kitchen.timer": 30}, "event,buttonPress2,kitchen.timer,timer-cancel", "kitchen.timer", 0.0},
		{"target temperature", 1, "", nil, "event,buttonPress2,heizung.wz,tempUpd,215", "heizung.wz", 21.5},
		{"thermo mode", 1, "", nil, "event,buttonPress2,heizung.wz,mode-3", "heizung.wz.mode", 3.0},
		{"media next", 3, "", nil, "event,buttonPress2,player,media-next", "player.cmd", "next"},
		{"media shuffle", 3, "", nil, "event,buttonPress2,player,media-shuffle", "player.shuffle", true},
		{"volume", 3, "", nil, "event,buttonPress2,player,volumeSlider,35", "player.volume", 35.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.items.Seed(tt.seed)
			f.onPage(tt.page, tt.subpage)
			f.handle(tt.raw)
			if v, _ := f.items.Get(tt.item); v != tt.want {
				t.Errorf("%s = %v (%T), want %v", tt.item, v, v, tt.want)
			}
		})
	}
}

func TestAlarmModes(t *testing.T) {
	f := newFixture(t)
	f.onPage(2, "")

	got := f.handle("event,buttonPress2,alarm,alarm-mode2,0000")
	if v, ok := f.items.Get("alarm.away"); ok && v == true {
		t.Error("wrong code armed the alarm")
	}
	if len(got) != 2 || got[0].cmds[0] != "pageType~cardAlarm" {
		t.Errorf("mismatch should re-show the page, got %+v", got)
	}

	f.handle("event,buttonPress2,alarm,alarm-mode2,1234")
	if v, _ := f.items.Get("alarm.away"); v != true {
		t.Errorf("alarm.away = %v, want true", v)
	}
	if v, _ := f.items.Get("alarm.home"); v != false {
		t.Errorf("alarm.home = %v, want false", v)
	}

	f.handle("event,buttonPress2,alarm,alarm-mode1")
	if v, _ := f.items.Get("alarm.away"); v != false {
		t.Errorf("alarm.away = %v after switching to home", v)
	}
}

func TestPasswordMatches(t *testing.T) {
	tests := []struct {
		code, secret string
		want         bool
	}{
		{"1234", "1234", true},
		{"0042", "42", true},
		{"1234", "4321", false},
		{"", "1234", false},
		{"abc", "abc", true},
	}
	for _, tt := range tests {
		if got := passwordMatches(tt.code, tt.secret); got != tt.want {
			t.Errorf("passwordMatches(%q, %q) = %v", tt.code, tt.secret, got)
		}
	}
}

func TestPageOpenDetail(t *testing.T) {
	f := newFixture(t)
	f.items.Seed(map[string]any{"light.detail": true, "light.bri": 255})
	f.onPage(0, "")

	got := f.handle("event,pageOpenDetail,popupLight,light.detail")
	if len(got) != 1 || !strings.HasPrefix(got[0].cmds[0], "entityUpdateDetail~light.detail~") {
		t.Fatalf("publishes = %+v", got)
	}
	if idx, _ := f.store.Page("NSPanel1"); idx != 0 {
		t.Errorf("detail changed page to %d", idx)
	}
	if got := f.handle("event,pageOpenDetail,popupLight,nope"); len(got) != 0 {
		t.Errorf("unknown entity published %+v", got)
	}
}

func TestPopupRefresh(t *testing.T) {
	f := newFixture(t)
	f.items.Seed(map[string]any{"light.detail": true, "light.bri": 255})
	f.onPage(0, "")
	f.handle("event,pageOpenDetail,popupLight,light.detail")

	got := f.handle("event,buttonPress2,light.detail,OnOff,0")
	if len(got) != 1 || len(got[0].cmds) != 1 {
		t.Fatalf("publishes = %+v", got)
	}
	if cmd := got[0].cmds[0]; !strings.HasPrefix(cmd, "entityUpdateDetail~light.detail~") || !strings.Contains(cmd, "~0~") {
		t.Errorf("popup update = %q", cmd)
	}

	// Same state again: nothing to send.
	if got := f.handle("event,buttonPress2,light.detail,OnOff,0"); len(got) != 0 {
		t.Errorf("duplicate popup update %+v", got)
	}

	// Closing the popup shows the card underneath in full.
	got = f.handle("event,buttonPress2,popupLight,bExit,1")
	if len(got) != 2 || got[0].cmds[0] != "pageType~cardEntities" || !strings.HasPrefix(got[1].cmds[0], "entityUpd~Licht~") {
		t.Fatalf("after exit = %+v", got)
	}
	if _, ok := f.store.ActivePopup("NSPanel1"); ok {
		t.Error("popup still open after exit")
	}
	if idx, _ := f.store.Page("NSPanel1"); idx != 0 {
		t.Errorf("page after exit = %d, want 0", idx)
	}
}

func TestIgnoredInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed", "garbage"},
		{"not an event", "foo,bar"},
		{"unknown event", "event,wobble"},
		{"short button press", "event,buttonPress2,x"},
		{"unknown action", "event,buttonPress2,licht.eg.tv_wand_nische,explode"},
		{"unknown entity", "event,buttonPress2,nope,OnOff,1"},
		{"unbound item", "event,buttonPress2,licht.eg.tv_wand_nische,brightnessSlider,50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.handle(tt.raw)
			if keys := f.items.Keys(); len(keys) != 0 {
				t.Errorf("items written: %v", keys)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	f.onPage(0, "")

	f.d.Refresh("NSPanel1")
	if got := f.out.take(); len(got) != 0 {
		t.Errorf("unchanged refresh published %+v", got)
	}
	f.items.Set("licht.eg.tv_wand_nische", true, "test", "")
	f.d.Refresh("NSPanel1")
	if got := f.out.take(); len(got) != 1 {
		t.Errorf("refresh publishes = %+v, want one", got)
	}
	if n := testutil.ToFloat64(f.metrics.Deduped); n != 1 {
		t.Errorf("deduped = %v, want 1", n)
	}
	f.d.Refresh("unknown")
	if got := f.out.take(); len(got) != 0 {
		t.Errorf("unknown panel published %+v", got)
	}
}

func TestValidateActions(t *testing.T) {
	if err := validateActions(); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"mode-", "alarm-mode", "nope"} {
		if _, ok := lookupAction(tag); ok {
			t.Errorf("lookupAction(%q) succeeded", tag)
		}
	}
}
