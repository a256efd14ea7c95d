package command

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"wordchat/internal/domain"
	"wordchat/internal/reminder"
)

const defaultReminderText = "do that thing"

var (
	relativeTime = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(seconds?|minutes?|hours?)\b`)
	absoluteDate = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})[./](\d{4})\b`)

	reminderFiller = map[string]bool{
		"remind": true, "remember": true, "me": true, "to": true, "about": true,
		"that": true, "please": true, "in": true, "on": true,
	}
)

// Reminder schedules a one-shot notification from phrases like
// "remind me to call mom in 10 minutes" or "remember the dentist on 19.11.2030".
type Reminder struct {
	greedy
	scheduler Scheduler
	now       func() time.Time
}

func (r *Reminder) Name() string { return "reminder" }

// reminderPlan is the parsed form of a reminder request.
type reminderPlan struct {
	text   string
	at     time.Time
	phrase string // confirmation suffix: "in 10 minute(s)" or "on 19.11.2030 at 09:00 UTC"
}

func (r *Reminder) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	now := r.now()
	plan, ok := parseReminder(args.Raw, now)
	if !ok {
		return domain.Reply{Text: "I'm not sure when to remind you. Please use a valid time format, like: **remind me to stretch in 10 minutes** or **remind me about rent on 01.12.2030**."}, nil
	}
	if !plan.at.After(now) {
		return domain.Reply{Text: "Could not set a reminder in the past."}, nil
	}
	if args.Session == nil {
		return domain.Reply{Text: "Reminders need a chat session."}, nil
	}

	_, err := r.scheduler.Add(ctx, reminder.Reminder{
		Kind:      reminder.KindReminder,
		Session:   args.Session.Key,
		Channel:   args.Session.Channel,
		ChatID:    args.Session.ChatID,
		Text:      plan.text,
		TriggerAt: plan.at.UnixMilli(),
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("schedule reminder: %w", err)
	}
	return domain.Reply{Text: fmt.Sprintf("Reminder set for \"%s\" %s.", html.EscapeString(plan.text), plan.phrase)}, nil
}

func parseReminder(raw string, now time.Time) (reminderPlan, bool) {
	if m := relativeTime.FindStringSubmatchIndex(raw); m != nil {
		n, err := strconv.Atoi(raw[m[2]:m[3]])
		if err != nil {
			return reminderPlan{}, false
		}
		unit := strings.TrimSuffix(strings.ToLower(raw[m[4]:m[5]]), "s")
		var d time.Duration
		switch unit {
		case "second":
			d = time.Duration(n) * time.Second
		case "minute":
			d = time.Duration(n) * time.Minute
		case "hour":
			d = time.Duration(n) * time.Hour
		}
		return reminderPlan{
			text:   reminderText(raw[:m[0]] + " " + raw[m[1]:]),
			at:     now.Add(d),
			phrase: fmt.Sprintf("in %d %s(s)", n, unit),
		}, true
	}

	if m := absoluteDate.FindStringSubmatchIndex(raw); m != nil {
		day, _ := strconv.Atoi(raw[m[2]:m[3]])
		month, _ := strconv.Atoi(raw[m[4]:m[5]])
		year, _ := strconv.Atoi(raw[m[6]:m[7]])
		at, ok := validDate(year, month, day)
		if !ok {
			return reminderPlan{}, false
		}
		at = at.Add(9 * time.Hour)
		return reminderPlan{
			text:   reminderText(raw[:m[0]] + " " + raw[m[1]:]),
			at:     at,
			phrase: "on " + at.Format("02.01.2006") + " at 09:00 UTC",
		}, true
	}
	return reminderPlan{}, false
}

// validDate rejects dates time.Date would silently normalise, like 31.02.
func validDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func reminderText(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		w = cleanWord(w)
		if w == "" || reminderFiller[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return defaultReminderText
	}
	return strings.Join(kept, " ")
}
