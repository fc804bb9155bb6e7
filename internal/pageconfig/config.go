// Package pageconfig models the declarative panel page configuration: cards,
// entities, sub-pages, screensaver and display settings.
package pageconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nspanel-bridge/internal/codec"
)

// PageType is a card layout understood by the panel driver.
type PageType string

const (
	CardEntities PageType = "cardEntities"
	CardGrid     PageType = "cardGrid"
	CardThermo   PageType = "cardThermo"
	CardMedia    PageType = "cardMedia"
	CardAlarm    PageType = "cardAlarm"
	CardQR       PageType = "cardQR"
	CardPower    PageType = "cardPower"
	CardChart    PageType = "cardChart"
)

var pageTypes = map[PageType]bool{
	CardEntities: true, CardGrid: true, CardThermo: true, CardMedia: true,
	CardAlarm: true, CardQR: true, CardPower: true, CardChart: true,
}

// MaxEntities is the number of entities a card of type pt can show on a
// panel of the given model ("eu" panels are portrait and show one less row).
func MaxEntities(pt PageType, model string) int {
	switch pt {
	case CardEntities:
		if strings.EqualFold(model, "eu") {
			return 4
		}
		return 5
	case CardGrid, CardPower:
		return 6
	case CardMedia:
		// the player plus six presets
		return 7
	case CardAlarm:
		return 4
	}
	return 1
}

// Entity is one element of a card bound to an item.
type Entity struct {
	ID            string `yaml:"entity"`
	Item          string `yaml:"item"`
	Type          string `yaml:"type"`
	Name          string `yaml:"name"`
	Icon          string `yaml:"icon"`
	IconOff       string `yaml:"icon_off"`
	StatusItem    string `yaml:"status_item"`
	Color         string `yaml:"color"`
	ColorOff      string `yaml:"color_off"`
	OptionalValue any    `yaml:"optional_value"`

	Min  *float64 `yaml:"min"`
	Max  *float64 `yaml:"max"`
	Step float64  `yaml:"step"`
	Unit string   `yaml:"unit"`

	Options []string `yaml:"options"`

	// Light detail.
	BrightnessItem string   `yaml:"brightness_item"`
	ColorTempItem  string   `yaml:"color_temp_item"`
	ColorTempMin   *float64 `yaml:"color_temp_min"`
	ColorTempMax   *float64 `yaml:"color_temp_max"`
	ColorItem      string   `yaml:"color_item"`

	// Shutter detail.
	TiltItem    string `yaml:"tilt_item"`
	CommandItem string `yaml:"command_item"`

	// Thermostat and media.
	CurrentItem string `yaml:"current_item"`
	ModeItem    string `yaml:"mode_item"`
	TitleItem   string `yaml:"title_item"`
	AuthorItem  string `yaml:"author_item"`
	VolumeItem  string `yaml:"volume_item"`
	ShuffleItem string `yaml:"shuffle_item"`
	SpeedItem   string `yaml:"speed_item"`

	// Alarm mode.
	Password string `yaml:"password"`

	// Chart.
	Points int `yaml:"points"`
}

// ItemPath is the bound item, defaulting to the entity id.
func (e *Entity) ItemPath() string {
	if e.Item != "" {
		return e.Item
	}
	return e.ID
}

// Range returns the configured value range, or def when min/max are unset.
func (e *Entity) Range(def codec.Range) codec.Range {
	r := def
	if e.Min != nil {
		r.Lo = *e.Min
	}
	if e.Max != nil {
		r.Hi = *e.Max
	}
	return r
}

// DefaultColorTemp is the mired range used when color_temp_min/max are unset.
var DefaultColorTemp = codec.Range{Lo: 153, Hi: 500}

// ColorTempRange returns the mired range of a light.
func (e *Entity) ColorTempRange() codec.Range {
	r := DefaultColorTemp
	if e.ColorTempMin != nil {
		r.Lo = *e.ColorTempMin
	}
	if e.ColorTempMax != nil {
		r.Hi = *e.ColorTempMax
	}
	return r
}

// NavigateTarget returns the target key of a navigate.* entity.
func (e *Entity) NavigateTarget() (string, bool) {
	return strings.CutPrefix(e.ID, "navigate.")
}

// Card is one page of the panel.
type Card struct {
	Key      string   `yaml:"key"`
	PageType PageType `yaml:"pageType"`
	Heading  string   `yaml:"heading"`
	Entities []Entity `yaml:"entities"`

	// QR card.
	SSID         string `yaml:"ssid"`
	Password     string `yaml:"password"`
	HidePassword bool   `yaml:"hide_password"`
}

// Display holds brightness and timeout settings pushed at startup.
type Display struct {
	ScreensaverTimeout    int    `yaml:"screensaver_timeout"`
	BrightnessScreensaver int    `yaml:"brightness_screensaver"`
	BrightnessActive      int    `yaml:"brightness_active"`
	BackgroundColor       string `yaml:"background_color"`
}

// StatusIcon is one of the two screensaver status icons.
type StatusIcon struct {
	Item     string `yaml:"item"`
	Icon     string `yaml:"icon"`
	IconOff  string `yaml:"icon_off"`
	Color    string `yaml:"color"`
	ColorOff string `yaml:"color_off"`
}

// Forecast is one screensaver forecast slot.
type Forecast struct {
	Label         string `yaml:"label"`
	ConditionItem string `yaml:"condition_item"`
	ValueItem     string `yaml:"value_item"`
	Unit          string `yaml:"unit"`
}

// Weather binds the screensaver weather display to items.
type Weather struct {
	ConditionItem   string     `yaml:"condition_item"`
	IsDayItem       string     `yaml:"is_day_item"`
	TemperatureItem string     `yaml:"temperature_item"`
	Unit            string     `yaml:"unit"`
	Forecast        []Forecast `yaml:"forecast"`
	RefreshSeconds  int        `yaml:"refresh_seconds"`
}

// Screensaver configures the screensaver page.
type Screensaver struct {
	Heading     string            `yaml:"heading"`
	Text        string            `yaml:"text"`
	Weather     *Weather          `yaml:"weather"`
	StatusIcons []StatusIcon      `yaml:"status_icons"`
	Colors      map[string]string `yaml:"colors"`
}

// Document is the complete page configuration.
type Document struct {
	Display     Display         `yaml:"config"`
	Screensaver Screensaver     `yaml:"screensaver"`
	Cards       []Card          `yaml:"cards"`
	Subpages    map[string]Card `yaml:"subpages"`
}

// Load reads and validates a page configuration file. Warnings describe
// problems that were corrected or will truncate rendering.
func Load(path string) (*Document, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read page config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a page configuration.
func Parse(data []byte) (*Document, []string, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse page config: %w", err)
	}
	doc.applyDefaults()
	warnings, err := doc.validate()
	if err != nil {
		return nil, warnings, err
	}
	return &doc, warnings, nil
}

func (d *Document) applyDefaults() {
	if d.Display.ScreensaverTimeout == 0 {
		d.Display.ScreensaverTimeout = 10
	}
	if d.Display.BrightnessScreensaver == 0 {
		d.Display.BrightnessScreensaver = 10
	}
	if d.Display.BrightnessActive == 0 {
		d.Display.BrightnessActive = 100
	}
	if d.Screensaver.Weather != nil && d.Screensaver.Weather.RefreshSeconds == 0 {
		d.Screensaver.Weather.RefreshSeconds = 900
	}
}

func (d *Document) validate() ([]string, error) {
	if len(d.Cards) == 0 {
		return nil, fmt.Errorf("page config: no cards")
	}
	var warnings []string
	for i := range d.Cards {
		w, err := validateCard(&d.Cards[i], fmt.Sprintf("cards[%d]", i))
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	for key, c := range d.Subpages {
		w, err := validateCard(&c, "subpages."+key)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
		d.Subpages[key] = c
	}
	for i, e := range d.Cards {
		for _, ent := range e.Entities {
			if target, ok := ent.NavigateTarget(); ok {
				if _, ok := d.Subpages[target]; !ok && d.CardIndex(target) < 0 {
					warnings = append(warnings, fmt.Sprintf("cards[%d]: navigate target %q not found", i, target))
				}
			}
		}
	}
	d.Screensaver.Heading = sanitize(d.Screensaver.Heading, "screensaver.heading", &warnings)
	d.Screensaver.Text = sanitize(d.Screensaver.Text, "screensaver.text", &warnings)
	if len(d.Screensaver.StatusIcons) > 2 {
		warnings = append(warnings, "screensaver: only two status icons are shown")
	}
	return warnings, nil
}

func validateCard(c *Card, where string) ([]string, error) {
	if !pageTypes[c.PageType] {
		return nil, fmt.Errorf("%s: unknown pageType %q", where, c.PageType)
	}
	var warnings []string
	c.Heading = sanitize(c.Heading, where+".heading", &warnings)

	if limit := MaxEntities(c.PageType, ""); len(c.Entities) > limit {
		warnings = append(warnings, fmt.Sprintf("%s: %d entities, %s shows at most %d", where, len(c.Entities), c.PageType, limit))
	}
	if c.PageType == CardQR && c.SSID == "" {
		warnings = append(warnings, where+": QR card without ssid")
	}

	kept := c.Entities[:0]
	for i, e := range c.Entities {
		ew := fmt.Sprintf("%s.entities[%d]", where, i)
		if e.ID == "" {
			warnings = append(warnings, ew+": missing entity id, skipped")
			continue
		}
		if rng := e.Range(codec.Percent); rng.Degenerate() {
			warnings = append(warnings, fmt.Sprintf("%s (%s): value range [%v,%v] is empty, entity rejected", ew, e.ID, rng.Lo, rng.Hi))
			continue
		}
		if e.ColorTempRange().Degenerate() {
			warnings = append(warnings, fmt.Sprintf("%s (%s): color temperature range is empty, entity rejected", ew, e.ID))
			continue
		}
		e.Name = sanitize(e.Name, ew+".name", &warnings)
		if strings.ContainsAny(e.ID, "~,") {
			warnings = append(warnings, fmt.Sprintf("%s: entity id %q contains a delimiter, skipped", ew, e.ID))
			continue
		}
		for j, o := range e.Options {
			e.Options[j] = strings.ReplaceAll(sanitize(o, ew+".options", &warnings), "?", "")
		}
		kept = append(kept, e)
	}
	c.Entities = kept
	return warnings, nil
}

// sanitize replaces the wire delimiter in display text.
func sanitize(s, where string, warnings *[]string) string {
	if strings.Contains(s, "~") {
		*warnings = append(*warnings, where+": '~' replaced")
		return strings.ReplaceAll(s, "~", "-")
	}
	return s
}

// CardIndex returns the index of the card with the given key, or -1.
func (d *Document) CardIndex(key string) int {
	for i, c := range d.Cards {
		if c.Key != "" && c.Key == key {
			return i
		}
	}
	return -1
}

// ItemPaths returns every item the configuration reads, deduplicated.
func (d *Document) ItemPaths() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(paths ...string) {
		for _, p := range paths {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	cards := append([]Card(nil), d.Cards...)
	for _, c := range d.Subpages {
		cards = append(cards, c)
	}
	for _, c := range cards {
		for _, e := range c.Entities {
			if _, nav := e.NavigateTarget(); nav || e.Type == "text" && e.Item == "" && e.OptionalValue != nil {
				continue
			}
			add(e.ItemPath(), e.StatusItem, e.BrightnessItem, e.ColorTempItem, e.ColorItem,
				e.TiltItem, e.CommandItem, e.CurrentItem, e.ModeItem, e.TitleItem, e.AuthorItem, e.VolumeItem, e.ShuffleItem, e.SpeedItem)
		}
	}
	if w := d.Screensaver.Weather; w != nil {
		add(w.ConditionItem, w.IsDayItem, w.TemperatureItem)
		for _, f := range w.Forecast {
			add(f.ConditionItem, f.ValueItem)
		}
	}
	for _, s := range d.Screensaver.StatusIcons {
		add(s.Item)
	}
	return out
}

// ChartItems returns the items charted by cardChart pages.
func (d *Document) ChartItems() []string {
	var out []string
	for _, c := range d.Cards {
		if c.PageType != CardChart {
			continue
		}
		for _, e := range c.Entities {
			out = append(out, e.ItemPath())
		}
	}
	return out
}
