package pageconfig

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
config:
  screensaver_timeout: 20
screensaver:
  heading: Hallo
  text: Welt
  weather:
    condition_item: weather.code
    is_day_item: weather.is_day
    temperature_item: weather.temp
  status_icons:
    - item: door.open
      icon: home
cards:
  - pageType: cardEntities
    heading: Licht~EG
    entities:
      - entity: licht.eg.tv_wand_nische
        type: light
        name: TV Wand
        icon: lightbulb
      - entity: dimmer.eg
        type: number
        min: 5
        max: 5
      - entity: navigate.lights
        type: button
        name: More
      - type: switch
  - key: climate
    pageType: cardThermo
    heading: Heizung
    entities:
      - entity: heizung.wz
        current_item: heizung.wz.ist
        mode_item: heizung.wz.mode
  - pageType: cardChart
    heading: Strom
    entities:
      - entity: strom.verbrauch
        item: strom.verbrauch.kw
subpages:
  lights:
    pageType: cardGrid
    heading: Lights
    entities:
      - entity: licht.og
        type: light
`

func TestParse(t *testing.T) {
	doc, warnings, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Cards) != 3 {
		t.Fatalf("cards = %d", len(doc.Cards))
	}
	if doc.Display.ScreensaverTimeout != 20 || doc.Display.BrightnessActive != 100 || doc.Display.BrightnessScreensaver != 10 {
		t.Errorf("display = %+v", doc.Display)
	}
	if doc.Screensaver.Weather.RefreshSeconds != 900 {
		t.Errorf("weather refresh = %d", doc.Screensaver.Weather.RefreshSeconds)
	}

	c := doc.Cards[0]
	if c.Heading != "Licht-EG" {
		t.Errorf("heading = %q", c.Heading)
	}
	var ids []string
	for _, e := range c.Entities {
		ids = append(ids, e.ID)
	}
	if want := []string{"licht.eg.tv_wand_nische", "navigate.lights"}; !slices.Equal(ids, want) {
		t.Errorf("entities = %v, want %v", ids, want)
	}

	for _, sub := range []string{"'~' replaced", "value range [5,5] is empty", "missing entity id"} {
		found := false
		for _, w := range warnings {
			if strings.Contains(w, sub) {
				found = true
			}
		}
		if !found {
			t.Errorf("no warning containing %q in %v", sub, warnings)
		}
	}

	if doc.CardIndex("climate") != 1 || doc.CardIndex("nope") != -1 {
		t.Error("CardIndex")
	}
	if _, ok := doc.Subpages["lights"]; !ok {
		t.Error("subpage missing")
	}
}

func TestEntityRangeRejected(t *testing.T) {
	tests := []struct {
		name   string
		bounds string
		kept   bool
	}{
		{"defaults", "", true},
		{"min only", "min: 10", true},
		{"min at default max", "min: 100", false},
		{"max at default min", "max: 0", false},
		{"inverted", "min: 100\n        max: 0", true},
		{"equal", "min: 40\n        max: 40", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := "cards:\n  - pageType: cardEntities\n    entities:\n      - entity: dimmer\n        type: number\n"
			if tt.bounds != "" {
				cfg += "        " + tt.bounds + "\n"
			}
			doc, warnings, err := Parse([]byte(cfg))
			if err != nil {
				t.Fatal(err)
			}
			if kept := len(doc.Cards[0].Entities) == 1; kept != tt.kept {
				t.Errorf("kept = %v, want %v (warnings %v)", kept, tt.kept, warnings)
			}
		})
	}
}

func TestScreensaverTextSanitized(t *testing.T) {
	doc, warnings, err := Parse([]byte(`
screensaver:
  heading: "Guten~Morgen"
  text: "a~b~c"
cards:
  - pageType: cardEntities
    heading: Licht
`))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Screensaver.Heading != "Guten-Morgen" || doc.Screensaver.Text != "a-b-c" {
		t.Errorf("screensaver = %q %q", doc.Screensaver.Heading, doc.Screensaver.Text)
	}
	for _, want := range []string{"screensaver.heading: '~' replaced", "screensaver.text: '~' replaced"} {
		if !slices.Contains(warnings, want) {
			t.Errorf("missing warning %q in %v", want, warnings)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"no cards":     "config: {}\n",
		"unknown type": "cards:\n  - pageType: cardBogus\n",
		"bad yaml":     "cards: [",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Parse([]byte(src)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestItemPaths(t *testing.T) {
	doc, _, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	paths := doc.ItemPaths()
	for _, want := range []string{"licht.eg.tv_wand_nische", "heizung.wz.ist", "strom.verbrauch.kw", "licht.og", "weather.code", "door.open"} {
		if !slices.Contains(paths, want) {
			t.Errorf("ItemPaths missing %q: %v", want, paths)
		}
	}
	if slices.Contains(paths, "navigate.lights") {
		t.Error("navigate entity should not bind an item")
	}
	if got := doc.ChartItems(); !slices.Equal(got, []string{"strom.verbrauch.kw"}) {
		t.Errorf("ChartItems = %v", got)
	}
}

func TestMaxEntities(t *testing.T) {
	tests := []struct {
		pt    PageType
		model string
		want  int
	}{
		{CardEntities, "eu", 4},
		{CardEntities, "us-p", 5},
		{CardGrid, "eu", 6},
		{CardThermo, "eu", 1},
		{CardQR, "", 1},
		{CardAlarm, "", 4},
	}
	for _, tt := range tests {
		if got := MaxEntities(tt.pt, tt.model); got != tt.want {
			t.Errorf("MaxEntities(%s, %s) = %d, want %d", tt.pt, tt.model, got, tt.want)
		}
	}
}

func TestLocale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "de.yaml")
	src := `days: [Sonntag, Montag, Dienstag, Mittwoch, Donnerstag, Freitag, Samstag]
months: [Januar, Februar, März, April, Mai, Juni, Juli, August, September, Oktober, November, Dezember]
labels:
  on: Ein
`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	loc, err := LoadLocale(path)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 3, 6, 7, 5, 0, 0, time.UTC)
	if got := loc.Date(ts); got != "Mittwoch, 06.März 2024" {
		t.Errorf("Date = %q", got)
	}
	if got := loc.Time(ts); got != "07:05" {
		t.Errorf("Time = %q", got)
	}
	if got := loc.Format("%a %b", ts); got != "Mit Mär" {
		t.Errorf("abbrev = %q", got)
	}
	if loc.Label("on") != "Ein" || loc.Label("off") != "off" {
		t.Error("labels")
	}

	if got := DefaultLocale().Date(ts); got != "Wednesday, 06.March 2024" {
		t.Errorf("default Date = %q", got)
	}
}

func TestLoadLocaleBadDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.yaml")
	os.WriteFile(path, []byte("days: [a, b]\n"), 0o600)
	if _, err := LoadLocale(path); err == nil {
		t.Error("expected error")
	}
}
