package command

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"wordchat/internal/domain"
	"wordchat/internal/reminder"
)

const maxTimer = 24 * time.Hour

var (
	timerWords  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?)\b`)
	timerClock  = regexp.MustCompile(`\b(\d+):(\d{1,2})(?::(\d{1,2}))?\b`)
	timerShort  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)([smh])\b`)
	timerNumber = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// TimerUnit handles "<number> <unit>" pairs such as "5 minutes".
type TimerUnit struct {
	unit      string // second | minute | hour
	scheduler Scheduler
	now       func() time.Time
}

func (t *TimerUnit) Name() string { return t.unit }

func (t *TimerUnit) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	if !args.HasNumber() || *args.Number <= 0 {
		return domain.Reply{}, nil
	}
	return startTimer(ctx, t.scheduler, t.now(), args.Session, *args.Number, t.unit)
}

// Timer parses a duration from free text: "5m", "30s", "1h", "1:30",
// "for 5 minutes". A bare number counts as minutes.
type Timer struct {
	greedy
	scheduler Scheduler
	now       func() time.Time
}

func (t *Timer) Name() string { return "timer" }

func (t *Timer) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	amount, unit, ok := parseTimer(args.Raw)
	if !ok {
		return domain.Reply{Text: "Tell me how long, like: **timer 5m**, **timer 1:30** or **timer for 10 minutes**."}, nil
	}
	return startTimer(ctx, t.scheduler, t.now(), args.Session, amount, unit)
}

func parseTimer(raw string) (float64, string, bool) {
	if m := timerWords.FindStringSubmatch(raw); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return v, Units[strings.ToLower(m[2])], true
		}
	}
	if m := timerClock.FindStringSubmatch(raw); m != nil {
		a, _ := strconv.Atoi(m[1])
		b, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			c, _ := strconv.Atoi(m[3])
			return float64(a*3600 + b*60 + c), "second", true
		}
		return float64(a*60 + b), "second", true
	}
	if m := timerShort.FindStringSubmatch(raw); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit := map[string]string{"s": "second", "m": "minute", "h": "hour"}[strings.ToLower(m[2])]
			return v, unit, true
		}
	}
	if m := timerNumber.FindStringSubmatch(raw); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return v, "minute", true
		}
	}
	return 0, "", false
}

func unitDuration(unit string) time.Duration {
	switch unit {
	case "second":
		return time.Second
	case "hour":
		return time.Hour
	default:
		return time.Minute
	}
}

func startTimer(ctx context.Context, s Scheduler, now time.Time, session *domain.Session, amount float64, unit string) (domain.Reply, error) {
	d := time.Duration(math.Round(amount * float64(unitDuration(unit))))
	if d <= 0 || d > maxTimer {
		return domain.Reply{Text: "Timer duration must be between 0 and 24 hours."}, nil
	}
	if session == nil {
		return domain.Reply{Text: "Timers need a chat session."}, nil
	}

	_, err := s.Add(ctx, reminder.Reminder{
		Kind:      reminder.KindTimer,
		Session:   session.Key,
		Channel:   session.Channel,
		ChatID:    session.ChatID,
		Amount:    amount,
		Unit:      unit,
		TriggerAt: now.Add(d).UnixMilli(),
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("schedule timer: %w", err)
	}
	return domain.Reply{Text: fmt.Sprintf("Timer started for **%s %s(s)**", formatNumber(amount), unit)}, nil
}
