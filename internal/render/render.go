// Package render turns the page configuration and live item values into the
// tilde delimited commands the panel driver understands.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"nspanel-bridge/internal/codec"
	"nspanel-bridge/internal/history"
	"nspanel-bridge/internal/icons"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/pageconfig"
)

// ErrNoCard is returned for a page index or sub-page key that does not exist.
var ErrNoCard = errors.New("no such card")

// Delete is the placeholder for an empty entity slot.
const Delete = "delete~~~~~"

var white = codec.RGB{R: 255, G: 255, B: 255}

// ItemReader resolves item values.
type ItemReader interface {
	Get(path string) (any, bool)
}

// SeriesSource supplies chart data.
type SeriesSource interface {
	Series(item string, limit int) ([]history.Point, error)
}

// Page is a rendered card: the pageType switch plus its body commands.
type Page struct {
	Type pageconfig.PageType
	Body []string
}

// PageTypeCommand switches the panel to the card layout.
func (p Page) PageTypeCommand() string {
	return "pageType~" + string(p.Type)
}

// Renderer builds panel commands. It only reads state.
type Renderer struct {
	doc    *pageconfig.Document
	locale *pageconfig.Locale
	items  ItemReader
	series SeriesSource
	logger *slog.Logger
}

// New creates a renderer. series may be nil when no chart card is configured.
func New(doc *pageconfig.Document, locale *pageconfig.Locale, itemReader ItemReader, series SeriesSource, logger *slog.Logger) *Renderer {
	if locale == nil {
		locale = pageconfig.DefaultLocale()
	}
	return &Renderer{
		doc:    doc,
		locale: locale,
		items:  itemReader,
		series: series,
		logger: logger.With("component", "render"),
	}
}

// Document returns the page configuration.
func (r *Renderer) Document() *pageconfig.Document { return r.doc }

// Cards returns the number of cards in the rotation.
func (r *Renderer) Cards() int { return len(r.doc.Cards) }

// Card resolves a page index to its card. Sub-pages use index
// panel.PageSubpage and are looked up by key.
func (r *Renderer) Card(idx int, subpage string) (*pageconfig.Card, error) {
	if idx < 0 {
		c, ok := r.doc.Subpages[subpage]
		if !ok {
			return nil, fmt.Errorf("subpage %q: %w", subpage, ErrNoCard)
		}
		return &c, nil
	}
	if idx >= len(r.doc.Cards) {
		return nil, fmt.Errorf("page %d: %w", idx, ErrNoCard)
	}
	return &r.doc.Cards[idx], nil
}

// RenderPage renders card idx for a panel of the given model.
func (r *Renderer) RenderPage(idx int, subpage, model string) (Page, error) {
	card, err := r.Card(idx, subpage)
	if err != nil {
		return Page{}, err
	}
	left, right := NavigationString(idx, len(r.doc.Cards))
	head := join("entityUpd", card.Heading, left, right)

	entities := card.Entities
	if limit := pageconfig.MaxEntities(card.PageType, model); len(entities) > limit {
		r.logger.Warn("too many entities, truncating", "page", idx, "type", card.PageType, "entities", len(entities), "max", limit)
		entities = entities[:limit]
	}

	var body string
	switch card.PageType {
	case pageconfig.CardEntities, pageconfig.CardGrid:
		body = r.entityList(head, card.PageType, entities)
	case pageconfig.CardThermo:
		body = r.thermo(head, entities)
	case pageconfig.CardMedia:
		body = r.media(head, entities)
	case pageconfig.CardAlarm:
		body = r.alarm(head, card, entities)
	case pageconfig.CardQR:
		body = r.qr(head, card)
	case pageconfig.CardPower:
		body = r.power(head, entities)
	case pageconfig.CardChart:
		body = r.chart(head, entities)
	default:
		return Page{}, fmt.Errorf("page %d: unsupported type %q", idx, card.PageType)
	}
	return Page{Type: card.PageType, Body: []string{body}}, nil
}

// NavigationString returns the left and right navigation buttons for a page.
// Virtual pages (negative index) get up and home.
func NavigationString(idx, cards int) (left, right string) {
	switch {
	case idx < 0:
		return navButton("bUp", "arrow-up-bold"), navButton("bHome", "home")
	case cards <= 1:
		return Delete, Delete
	case idx == 0:
		return navButton("bHome", "home"), navButton("bNext", "arrow-right-bold")
	case idx == cards-1:
		return navButton("bPrev", "arrow-left-bold"), navButton("bHome", "home")
	default:
		return navButton("bPrev", "arrow-left-bold"), navButton("bNext", "arrow-right-bold")
	}
}

func navButton(name, icon string) string {
	return join("button", name, icons.Icon(icon), strconv.Itoa(int(codec.RGB565(white))), "", "")
}

func (r *Renderer) entityList(head string, pt pageconfig.PageType, entities []pageconfig.Entity) string {
	segs := []string{head}
	for i := range entities {
		segs = append(segs, r.entitySegment(pt, &entities[i]))
	}
	return join(segs...)
}

// entitySegment renders type~id~icon~color~name~value for one entity.
func (r *Renderer) entitySegment(pt pageconfig.PageType, e *pageconfig.Entity) string {
	if _, ok := e.NavigateTarget(); ok {
		icon := e.Icon
		if icon == "" {
			icon = "arrow-right-bold"
		}
		return join("button", e.ID, icons.Icon(icon), r.color(e.Color, white), displayName(e), r.locale.Label("Open"))
	}

	typ := e.Type
	if typ == "" {
		typ = "text"
	}
	v, _ := r.value(e)
	active := r.active(e, v)

	icon := e.Icon
	if icon == "" {
		icon = defaultIcon(typ)
	}
	if !active && e.IconOff != "" {
		icon = e.IconOff
	}

	color := r.color(e.Color, white)
	if pt == pageconfig.CardGrid && isToggle(typ) {
		color = r.toggleColor(e, active)
	}

	var value string
	switch typ {
	case "light", "switch", "fan", "input_boolean":
		value = boolString(active)
	case "number":
		rng := e.Range(codec.Percent)
		f, _ := items.Float(v)
		value = fmt.Sprintf("%d|%s|%s", int(math.Trunc(f)), formatNumber(rng.Lo), formatNumber(rng.Hi))
	case "shutter":
		value = r.shutterButtons(e, v)
	case "button":
		value = r.locale.Label("Press")
	case "text":
		value = items.String(v) + e.Unit
	default:
		value = items.String(v)
	}
	return join(typ, e.ID, icons.Icon(icon), color, displayName(e), sanitize(value))
}

// shutterButtons renders the up|stop|down icons and their enable flags.
func (r *Renderer) shutterButtons(e *pageconfig.Entity, v any) string {
	pos := r.percent(e, v)
	up, down := "enable", "enable"
	if pos >= 100 {
		up = "disable"
	}
	if pos <= 0 {
		down = "disable"
	}
	return strings.Join([]string{
		icons.Icon("arrow-up-bold"), icons.Icon("stop"), icons.Icon("arrow-down-bold"),
		up, "enable", down,
	}, "|")
}

// value returns the live value of the entity's item, or its optional value.
func (r *Renderer) value(e *pageconfig.Entity) (any, bool) {
	if v, ok := r.get(e.ItemPath()); ok {
		return v, true
	}
	if e.OptionalValue != nil {
		return e.OptionalValue, true
	}
	r.logger.Debug("item not found", "entity", e.ID, "item", e.ItemPath())
	return nil, false
}

func (r *Renderer) get(path string) (any, bool) {
	if path == "" || r.items == nil {
		return nil, false
	}
	return r.items.Get(path)
}

func (r *Renderer) active(e *pageconfig.Entity, v any) bool {
	if e.StatusItem != "" {
		sv, _ := r.get(e.StatusItem)
		return items.Bool(sv)
	}
	return items.Bool(v)
}

// percent scales an item value from the entity range onto 0..100.
func (r *Renderer) percent(e *pageconfig.Entity, v any) int {
	f, ok := items.Float(v)
	if !ok {
		return 0
	}
	p, err := codec.Scale(f, e.Range(codec.Percent), codec.Percent)
	if err != nil {
		r.logger.Warn("cannot scale value", "entity", e.ID, "error", err)
		return 0
	}
	return p
}

func (r *Renderer) color(name string, def codec.RGB) string {
	return strconv.Itoa(int(icons.Color565(name, def)))
}

func (r *Renderer) toggleColor(e *pageconfig.Entity, active bool) string {
	if active {
		return r.colorName(e.Color, "on")
	}
	return r.colorName(e.ColorOff, "off")
}

// colorName resolves name, falling back to the named color def.
func (r *Renderer) colorName(name, def string) string {
	fallback, _ := icons.Color(def)
	return r.color(name, fallback)
}

func defaultIcon(typ string) string {
	switch typ {
	case "light":
		return "lightbulb"
	case "switch", "input_boolean":
		return "toggle-switch"
	case "shutter":
		return "window-shutter"
	case "fan":
		return "fan"
	case "button":
		return "gesture-tap-button"
	case "timer":
		return "timer-outline"
	case "number":
		return "chart-bar"
	}
	return icons.Fallback
}

func isToggle(typ string) bool {
	switch typ {
	case "light", "switch", "fan", "input_boolean":
		return true
	}
	return false
}

func displayName(e *pageconfig.Entity) string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sanitize keeps live values from breaking the field layout.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "~", "-")
}

func join(fields ...string) string {
	return strings.Join(fields, "~")
}

// Time is the clock command.
func (r *Renderer) Time(now time.Time) string {
	return "time~" + r.locale.Time(now)
}

// Date is the date command.
func (r *Renderer) Date(now time.Time) string {
	return "date~" + sanitize(r.locale.Date(now))
}

// RenderStartup is the sequence sent when a panel reports startup.
func (r *Renderer) RenderStartup(now time.Time) []string {
	d := r.doc.Display
	return []string{
		r.Time(now),
		r.Date(now),
		"timeout~" + strconv.Itoa(d.ScreensaverTimeout),
		join("dimmode", strconv.Itoa(d.BrightnessScreensaver), strconv.Itoa(d.BrightnessActive), r.color(d.BackgroundColor, background)),
	}
}

// background is the default panel background color.
var background = codec.RGB{R: 24, G: 28, B: 24}

// FindEntity returns the entity with the given id on a card.
func FindEntity(card *pageconfig.Card, id string) (*pageconfig.Entity, bool) {
	for i := range card.Entities {
		if card.Entities[i].ID == id {
			return &card.Entities[i], true
		}
	}
	return nil, false
}
