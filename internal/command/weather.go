package command

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"wordchat/internal/domain"
	"wordchat/internal/weather"
)

// Weather reports current conditions for the city named after the trigger,
// or for the last city the session asked about.
type Weather struct {
	greedy
	svc    WeatherService
	logger *slog.Logger
}

func (w *Weather) Name() string { return "weather" }

func (w *Weather) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	city := cityFrom(args.Raw)
	if city == "" && args.Session != nil {
		city = args.Session.LastKnownCity()
	}
	if city == "" {
		return domain.Reply{Text: "Please tell me a city, like: **weather London**"}, nil
	}

	r, err := w.svc.Current(ctx, city)
	switch {
	case errors.Is(err, weather.ErrNotConfigured):
		return domain.Reply{Text: "The weather command is not configured. Set WEATHERAPI_KEY or commands.weather.apiKey."}, nil
	case errors.Is(err, weather.ErrNoLocation):
		return domain.Reply{Text: fmt.Sprintf("Sorry, I couldn't find a location named \"%s\". Please try again.", html.EscapeString(city))}, nil
	case err != nil:
		w.logger.Warn("weather lookup failed", "city", city, "error", err)
		return domain.Reply{Text: "Sorry, I was unable to retrieve the weather information at this time."}, nil
	}

	if args.Session != nil {
		args.Session.SetLastKnownCity(r.Location.Name)
	}

	cond := r.Current.Condition
	place := r.Location.Name
	if r.Location.Region != "" {
		place += ", " + r.Location.Region
	}
	text := fmt.Sprintf(`<img src="%s" alt="%s" style="vertical-align: middle; width: 50px; height: 50px;"> The current weather in **%s** is **%s** at **%s°F** (%s°C).`,
		html.EscapeString(cond.IconURL()), html.EscapeString(cond.Text),
		html.EscapeString(place), html.EscapeString(cond.Text), formatNumber(r.Current.TempF), formatNumber(r.Current.TempC))
	return domain.Reply{Text: text}, nil
}

// cityFrom strips connecting words and trailing punctuation around a city name.
func cityFrom(raw string) string {
	s := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(raw), ".,!?"))
	lower := strings.ToLower(s)
	for _, prefix := range []string{"in ", "for ", "at "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}
