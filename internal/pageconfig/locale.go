package pageconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"gopkg.in/yaml.v3"
)

// Locale holds the translated names and formats used on the panel.
type Locale struct {
	Days       []string          `yaml:"days"`   // Sunday first
	Months     []string          `yaml:"months"` // January first
	DateFormat string            `yaml:"date_format"`
	TimeFormat string            `yaml:"time_format"`
	Labels     map[string]string `yaml:"labels"`
}

// DefaultLocale is English with the date layout the panel expects.
func DefaultLocale() *Locale {
	return &Locale{
		Days:       []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
		Months:     []string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		DateFormat: "%A, %d.%B %Y",
		TimeFormat: "%H:%M",
		Labels:     map[string]string{},
	}
}

// LoadLocale reads a locale file. An empty path yields DefaultLocale. Missing
// fields fall back to the defaults.
func LoadLocale(path string) (*Locale, error) {
	loc := DefaultLocale()
	if path == "" {
		return loc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locale: %w", err)
	}
	var raw Locale
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}
	if len(raw.Days) != 0 {
		if len(raw.Days) != 7 {
			return nil, fmt.Errorf("locale: %d day names, want 7", len(raw.Days))
		}
		loc.Days = raw.Days
	}
	if len(raw.Months) != 0 {
		if len(raw.Months) != 12 {
			return nil, fmt.Errorf("locale: %d month names, want 12", len(raw.Months))
		}
		loc.Months = raw.Months
	}
	if raw.DateFormat != "" {
		loc.DateFormat = raw.DateFormat
	}
	if raw.TimeFormat != "" {
		loc.TimeFormat = raw.TimeFormat
	}
	for k, v := range raw.Labels {
		loc.Labels[k] = v
	}
	return loc, nil
}

// Format renders t with a strftime layout, substituting localized day and
// month names for %A, %a, %B and %b.
func (l *Locale) Format(layout string, t time.Time) string {
	day := l.Days[int(t.Weekday())]
	month := l.Months[int(t.Month())-1]
	r := strings.NewReplacer(
		"%%", "%%",
		"%A", escape(day),
		"%a", escape(abbrev(day)),
		"%B", escape(month),
		"%b", escape(abbrev(month)),
	)
	return strftime.Format(r.Replace(layout), t)
}

// Date formats t with the locale's date layout.
func (l *Locale) Date(t time.Time) string { return l.Format(l.DateFormat, t) }

// Time formats t with the locale's time layout.
func (l *Locale) Time(t time.Time) string { return l.Format(l.TimeFormat, t) }

// Label returns a translated label or key itself.
func (l *Locale) Label(key string) string {
	if v, ok := l.Labels[key]; ok {
		return v
	}
	return key
}

func abbrev(s string) string {
	r := []rune(s)
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}
