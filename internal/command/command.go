// Package command holds the word-triggered handlers the dispatch loop invokes
// and registers them in a dispatch.Catalog.
package command

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wordchat/internal/config"
	"wordchat/internal/dispatch"
	"wordchat/internal/domain"
	"wordchat/internal/reminder"
	"wordchat/internal/weather"
	"wordchat/internal/wiki"
)

// WeatherService is the subset of weather.Client the handlers use.
type WeatherService interface {
	Current(ctx context.Context, query string) (*weather.Report, error)
	Forecast(ctx context.Context, query string, days int) (*weather.Report, error)
	History(ctx context.Context, query string, date time.Time) (*weather.Report, error)
}

// Encyclopedia is the subset of wiki.Client the lookup handler uses.
type Encyclopedia interface {
	Lookup(ctx context.Context, term string) (*wiki.Summary, error)
}

// Scheduler accepts reminders and timers for later delivery.
type Scheduler interface {
	Add(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error)
}

var errNoScheduler = errors.New("reminders are disabled")

// Deps carries every collaborator a handler may need. Nil services make the
// factories that need them fail, which the resolver treats as "no handler".
type Deps struct {
	Weather   WeatherService
	Wiki      Encyclopedia
	Scheduler Scheduler
	Config    config.CommandsConfig
	Now       func() time.Time
	Logger    *slog.Logger
}

// Units maps every timer unit word to its canonical unit.
var Units = map[string]string{
	"second": "second", "seconds": "second", "sec": "second", "secs": "second",
	"minute": "minute", "minutes": "minute", "min": "minute", "mins": "minute",
	"hour": "hour", "hours": "hour", "hr": "hour", "hrs": "hour",
}

// Register adds every handler to c under its catalog name.
func Register(c *dispatch.Catalog, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	c.Register("weather", func(context.Context) (domain.Handler, error) {
		if d.Weather == nil {
			return nil, errors.New("weather service not configured")
		}
		return &Weather{svc: d.Weather, logger: d.Logger}, nil
	})
	c.Register("snow", func(context.Context) (domain.Handler, error) {
		if d.Weather == nil {
			return nil, errors.New("weather service not configured")
		}
		return &Snow{svc: d.Weather, now: d.Now, logger: d.Logger}, nil
	})
	c.Register("reminder", func(context.Context) (domain.Handler, error) {
		if d.Scheduler == nil {
			return nil, errNoScheduler
		}
		return &Reminder{scheduler: d.Scheduler, now: d.Now}, nil
	})
	c.Register("timer", func(context.Context) (domain.Handler, error) {
		if d.Scheduler == nil {
			return nil, errNoScheduler
		}
		return &Timer{scheduler: d.Scheduler, now: d.Now}, nil
	})
	for word, unit := range Units {
		c.Register(word, func(context.Context) (domain.Handler, error) {
			if d.Scheduler == nil {
				return nil, errNoScheduler
			}
			return &TimerUnit{unit: unit, scheduler: d.Scheduler, now: d.Now}, nil
		})
	}
	c.Register("mirror", func(context.Context) (domain.Handler, error) {
		return &Mirror{proxyBase: d.Config.Mirror.ProxyBase}, nil
	})
	c.Register("visualize", func(context.Context) (domain.Handler, error) {
		return &Visualize{model: d.Config.Visualize.DefaultModel, script: d.Config.Visualize.ViewerScript}, nil
	})
	c.Alias("3d", "visualize")
	c.Register("the", func(context.Context) (domain.Handler, error) {
		if d.Wiki == nil {
			return nil, errors.New("encyclopedia not configured")
		}
		return &The{wiki: d.Wiki, cooldown: time.Duration(d.Config.Wiki.CooldownMs) * time.Millisecond, now: d.Now, logger: d.Logger}, nil
	})
	c.Register("date", func(context.Context) (domain.Handler, error) {
		return Date{}, nil
	})
}

// greedy is embedded by handlers whose argument is the rest of the sentence.
type greedy struct{}

func (greedy) ConsumesRemainder() bool { return true }

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// cleanWord trims the punctuation the tokenizer strips, keeping inner text.
func cleanWord(w string) string {
	return strings.Trim(w, ".,!?")
}
