package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"wordchat/internal/domain"
	"wordchat/internal/weather"
)

// Snow estimates the chance of snow for the session's last known city from
// the 3-day hourly forecast and two past winters.
type Snow struct {
	svc    WeatherService
	now    func() time.Time
	logger *slog.Logger
}

func (s *Snow) Name() string { return "snow" }

// snowHour is a forecast hour cold and moist enough for snow.
type snowHour struct {
	date      string
	clock     string
	tempC     float64
	condition string
}

func (s *Snow) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	city := ""
	if args.Session != nil {
		city = args.Session.LastKnownCity()
	}
	if city == "" {
		return domain.Reply{Text: "To analyze the chance of snow, I need a location. Please ask for the weather in a specific city first."}, nil
	}

	var (
		upcoming   []snowHour
		historical bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		upcoming, err = s.forecast(gctx, city)
		return err
	})
	g.Go(func() error {
		var err error
		historical, err = s.history(gctx, city)
		return err
	})
	if err := g.Wait(); errors.Is(err, weather.ErrNotConfigured) {
		return domain.Reply{Text: "The weather command is not configured. Set WEATHERAPI_KEY or commands.weather.apiKey."}, nil
	}

	return domain.Reply{Text: snowNarrative(city, upcoming, historical)}, nil
}

// forecast only returns configuration errors; other failures mean no data.
func (s *Snow) forecast(ctx context.Context, city string) ([]snowHour, error) {
	r, err := s.svc.Forecast(ctx, city, 3)
	if errors.Is(err, weather.ErrNotConfigured) {
		return nil, err
	}
	if err != nil {
		s.logger.Debug("snow forecast unavailable", "city", city, "error", err)
		return nil, nil
	}

	var hours []snowHour
	for _, day := range r.Forecast.Days {
		for _, h := range day.Hours {
			cold := h.TempC <= 3
			moist := h.Humidity > 80 && (h.WillItSnow > 0 || h.ChanceOfSnow > 30 || h.PrecipMM > 0)
			if !cold || !moist {
				continue
			}
			clock := h.Time
			if _, after, ok := strings.Cut(h.Time, " "); ok {
				clock = after
			}
			hours = append(hours, snowHour{date: day.Date, clock: clock, tempC: h.TempC, condition: h.Condition.Text})
		}
	}
	return hours, nil
}

// history checks February 15 of the two previous years, newest first.
func (s *Snow) history(ctx context.Context, city string) (bool, error) {
	year := s.now().Year()
	for _, y := range []int{year - 1, year - 2} {
		r, err := s.svc.History(ctx, city, time.Date(y, time.February, 15, 0, 0, 0, 0, time.UTC))
		if errors.Is(err, weather.ErrNotConfigured) {
			return false, err
		}
		if err != nil || len(r.Forecast.Days) == 0 {
			continue
		}
		day := r.Forecast.Days[0].Day
		if day.MaxTempC <= 5 && strings.Contains(strings.ToLower(day.Condition.Text), "snow") {
			return true, nil
		}
	}
	return false, nil
}

func snowNarrative(city string, upcoming []snowHour, historical bool) string {
	var sb strings.Builder
	if len(upcoming) > 0 {
		first := upcoming[0]
		fmt.Fprintf(&sb, "Looking at the forecast for **%s**, there are a few upcoming periods with conditions that could support snow.", city)
		fmt.Fprintf(&sb, " The earliest is around **%s on %s**, with a temperature of **%s°C** and a forecast of \"%s\".",
			first.clock, first.date, formatNumber(first.tempC), first.condition)
		if historical {
			sb.WriteString("\n\nThis is plausible, as there have been days with snow in recent winters.")
		} else {
			sb.WriteString("\n\nThis would be notable, as I didn't find similar conditions in the historical data for the last couple of years.")
		}
		return sb.String()
	}

	fmt.Fprintf(&sb, "Looking at the next 3-day forecast for **%s**, I don't see any periods that meet the necessary conditions for snow (temp ≤ 3°C and high moisture).", city)
	if historical {
		sb.WriteString("\n\nHowever, historical data shows it has snowed in past winters, so conditions could certainly change later in the season.")
	} else {
		sb.WriteString("\n\nThis is consistent with recent years, where I didn't find records of snow under these conditions either.")
	}
	return sb.String()
}
