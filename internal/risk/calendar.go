package risk

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar describes the instrument trading session consulted by the
// market-window check. The defaults match the NSE cash session the signal
// channels trade on; crypto deployments configure a 24x7 session.
type Calendar struct {
	Timezone     string   `yaml:"timezone"`
	Open         string   `yaml:"open"`  // "09:15"
	Close        string   `yaml:"close"` // "15:30"
	TradeWeekend bool     `yaml:"trade_weekend"`
	AlwaysOpen   bool     `yaml:"always_open"`
	Holidays     []string `yaml:"holidays"` // YYYY-MM-DD

	loc      *time.Location
	openMin  int
	closeMin int
	holidays map[string]bool
}

// DefaultCalendar is the NSE cash session.
func DefaultCalendar() *Calendar {
	c := &Calendar{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30"}
	if err := c.compile(); err != nil {
		panic(err) // static defaults cannot fail
	}
	return c
}

// LoadCalendar reads a session calendar from a YAML file.
func LoadCalendar(path string) (*Calendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session calendar failed: %w", err)
	}
	var c Calendar
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing session calendar failed: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Calendar) compile() error {
	if c.AlwaysOpen {
		return nil
	}
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	c.loc = loc
	if c.openMin, err = parseClock(c.Open, 9*60+15); err != nil {
		return err
	}
	if c.closeMin, err = parseClock(c.Close, 15*60+30); err != nil {
		return err
	}
	c.holidays = make(map[string]bool, len(c.Holidays))
	for _, h := range c.Holidays {
		c.holidays[strings.TrimSpace(h)] = true
	}
	return nil
}

// InSession reports whether t falls inside the trading session.
func (c *Calendar) InSession(t time.Time) bool {
	if c.AlwaysOpen {
		return true
	}
	local := t.In(c.loc)
	if !c.TradeWeekend {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if c.holidays[local.Format("2006-01-02")] {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= c.openMin && minutes <= c.closeMin
}

func parseClock(v string, fallback int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", v)
	}
	return h*60 + m, nil
}
