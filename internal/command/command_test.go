package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordchat/internal/config"
	"wordchat/internal/dispatch"
	"wordchat/internal/domain"
	"wordchat/internal/reminder"
	"wordchat/internal/weather"
	"wordchat/internal/wiki"
)

var fixedNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWeather struct {
	current   func(q string) (*weather.Report, error)
	forecast  *weather.Report
	history   map[string]*weather.Report // by date
	err       error
	mu        sync.Mutex
	histDates []string
}

func (f *fakeWeather) Current(_ context.Context, q string) (*weather.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.current(q)
}

func (f *fakeWeather) Forecast(context.Context, string, int) (*weather.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.forecast == nil {
		return nil, errors.New("no forecast")
	}
	return f.forecast, nil
}

func (f *fakeWeather) History(_ context.Context, _ string, date time.Time) (*weather.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := date.Format("2006-01-02")
	f.mu.Lock()
	f.histDates = append(f.histDates, key)
	f.mu.Unlock()
	r, ok := f.history[key]
	if !ok {
		return nil, errors.New("no history")
	}
	return r, nil
}

type fakeScheduler struct {
	added []reminder.Reminder
	err   error
}

func (s *fakeScheduler) Add(_ context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	if s.err != nil {
		return reminder.Reminder{}, s.err
	}
	s.added = append(s.added, r)
	return r, nil
}

type fakeWiki struct {
	summary *wiki.Summary
	err     error
	terms   []string
}

func (f *fakeWiki) Lookup(_ context.Context, term string) (*wiki.Summary, error) {
	f.terms = append(f.terms, term)
	return f.summary, f.err
}

func parisReport() *weather.Report {
	return &weather.Report{
		Location: weather.Location{Name: "Paris", Region: "Ile-de-France"},
		Current: &weather.Current{
			TempC: 18, TempF: 64.4,
			Condition: weather.Condition{Text: "Partly cloudy", Icon: "//cdn.weatherapi.com/116.png"},
		},
	}
}

func session() *domain.Session { return domain.NewSession("web", "abc") }

// --- weather ---

func TestWeather_CityFromRemainder(t *testing.T) {
	var asked string
	w := &Weather{svc: &fakeWeather{current: func(q string) (*weather.Report, error) {
		asked = q
		return parisReport(), nil
	}}, logger: testLogger()}
	s := session()

	reply, err := w.Invoke(context.Background(), domain.Arguments{Raw: "in Paris?", Session: s})
	require.NoError(t, err)
	assert.Equal(t, "Paris", asked)
	assert.Contains(t, reply.Text, `<img src="https://cdn.weatherapi.com/116.png"`)
	assert.Contains(t, reply.Text, "**Paris, Ile-de-France** is **Partly cloudy** at **64.4°F** (18°C).")
	assert.Equal(t, "Paris", s.LastKnownCity())
}

func TestWeather_FallsBackToLastCity(t *testing.T) {
	var asked string
	w := &Weather{svc: &fakeWeather{current: func(q string) (*weather.Report, error) {
		asked = q
		return parisReport(), nil
	}}, logger: testLogger()}
	s := session()
	s.SetLastKnownCity("Lyon")

	_, err := w.Invoke(context.Background(), domain.Arguments{Session: s})
	require.NoError(t, err)
	assert.Equal(t, "Lyon", asked)
}

func TestWeather_StaticReplies(t *testing.T) {
	w := &Weather{svc: &fakeWeather{}, logger: testLogger()}
	reply, _ := w.Invoke(context.Background(), domain.Arguments{Session: session()})
	assert.Contains(t, reply.Text, "Please tell me a city")

	w.svc = &fakeWeather{err: &weather.APIError{Code: 1006, Message: "No matching location found."}}
	reply, _ = w.Invoke(context.Background(), domain.Arguments{Raw: "Atlantis", Session: session()})
	assert.Contains(t, reply.Text, `couldn't find a location named "Atlantis"`)

	w.svc = &fakeWeather{err: weather.ErrNotConfigured}
	reply, _ = w.Invoke(context.Background(), domain.Arguments{Raw: "Oslo"})
	assert.Contains(t, reply.Text, "not configured")
}

func TestWeather_EscapesUntrustedText(t *testing.T) {
	w := &Weather{svc: &fakeWeather{current: func(q string) (*weather.Report, error) {
		return &weather.Report{
			Location: weather.Location{Name: "<b>Oslo</b>", Region: "Øst & Vest"},
			Current:  &weather.Current{TempC: 1, TempF: 33.8, Condition: weather.Condition{Text: "<i>Snow</i>", Icon: "//cdn/snow.png"}},
		}, nil
	}}, logger: testLogger()}

	reply, err := w.Invoke(context.Background(), domain.Arguments{Raw: "Oslo", Session: session()})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "**&lt;b&gt;Oslo&lt;/b&gt;, Øst &amp; Vest**")
	assert.Contains(t, reply.Text, "**&lt;i&gt;Snow&lt;/i&gt;**")
	assert.NotContains(t, reply.Text, "<b>")

	w.svc = &fakeWeather{err: weather.ErrNoLocation}
	reply, _ = w.Invoke(context.Background(), domain.Arguments{Raw: `<img src=x onerror=alert(1)>`, Session: session()})
	assert.NotContains(t, reply.Text, "<img")
	assert.Contains(t, reply.Text, "&lt;img src=x onerror=alert(1)&gt;")
}

// --- snow ---

func TestSnow_NeedsCity(t *testing.T) {
	s := &Snow{svc: &fakeWeather{}, now: func() time.Time { return fixedNow }, logger: testLogger()}
	reply, err := s.Invoke(context.Background(), domain.Arguments{Session: session()})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "I need a location")
}

func TestSnow_ForecastAndHistory(t *testing.T) {
	fc := &weather.Report{}
	fc.Forecast.Days = []weather.ForecastDay{{
		Date: "2025-03-11",
		Hours: []weather.Hour{
			{Time: "2025-03-11 03:00", TempC: 5, Humidity: 95, WillItSnow: 1},
			{Time: "2025-03-11 06:00", TempC: -1, Humidity: 90, ChanceOfSnow: 60, Condition: weather.Condition{Text: "Light snow"}},
		},
	}}
	svc := &fakeWeather{forecast: fc, history: map[string]*weather.Report{}}
	h := &weather.Report{}
	h.Forecast.Days = []weather.ForecastDay{{Day: weather.Day{MaxTempC: 1, Condition: weather.Condition{Text: "Moderate snow"}}}}
	svc.history["2023-02-15"] = h

	s := &Snow{svc: svc, now: func() time.Time { return fixedNow }, logger: testLogger()}
	sess := session()
	sess.SetLastKnownCity("Oslo")

	reply, err := s.Invoke(context.Background(), domain.Arguments{Session: sess})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "**06:00 on 2025-03-11**")
	assert.Contains(t, reply.Text, "**-1°C**")
	assert.Contains(t, reply.Text, "This is plausible")
	assert.ElementsMatch(t, []string{"2024-02-15", "2023-02-15"}, svc.histDates)
}

func TestSnow_NothingUpcoming(t *testing.T) {
	s := &Snow{svc: &fakeWeather{}, now: func() time.Time { return fixedNow }, logger: testLogger()}
	sess := session()
	sess.SetLastKnownCity("Cairo")

	reply, err := s.Invoke(context.Background(), domain.Arguments{Session: sess})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "I don't see any periods")
	assert.Contains(t, reply.Text, "consistent with recent years")
}

// --- reminder ---

func TestReminder_EscapesText(t *testing.T) {
	sched := &fakeScheduler{}
	r := &Reminder{scheduler: sched, now: func() time.Time { return fixedNow }}

	reply, err := r.Invoke(context.Background(), domain.Arguments{Raw: "me to <script>x</script> in 10 minutes", Session: session()})
	require.NoError(t, err)
	assert.Equal(t, `Reminder set for "&lt;script&gt;x&lt;/script&gt;" in 10 minute(s).`, reply.Text)
	require.Len(t, sched.added, 1)
	assert.Equal(t, "<script>x</script>", sched.added[0].Text)
}

func TestReminder_RelativeTime(t *testing.T) {
	sched := &fakeScheduler{}
	r := &Reminder{scheduler: sched, now: func() time.Time { return fixedNow }}

	reply, err := r.Invoke(context.Background(), domain.Arguments{Raw: "me to call mom in 10 minutes", Session: session()})
	require.NoError(t, err)
	assert.Equal(t, `Reminder set for "call mom" in 10 minute(s).`, reply.Text)
	require.Len(t, sched.added, 1)
	got := sched.added[0]
	assert.Equal(t, "call mom", got.Text)
	assert.Equal(t, fixedNow.Add(10*time.Minute).UnixMilli(), got.TriggerAt)
	assert.Equal(t, "web:abc", got.Session)
	assert.Equal(t, reminder.KindReminder, got.Kind)
}

func TestReminder_AbsoluteDate(t *testing.T) {
	sched := &fakeScheduler{}
	r := &Reminder{scheduler: sched, now: func() time.Time { return fixedNow }}

	reply, err := r.Invoke(context.Background(), domain.Arguments{Raw: "me about the dentist on 19.11.2025", Session: session()})
	require.NoError(t, err)
	assert.Equal(t, `Reminder set for "the dentist" on 19.11.2025 at 09:00 UTC.`, reply.Text)
	assert.Equal(t, time.Date(2025, 11, 19, 9, 0, 0, 0, time.UTC).UnixMilli(), sched.added[0].TriggerAt)
}

func TestReminder_DefaultText(t *testing.T) {
	sched := &fakeScheduler{}
	r := &Reminder{scheduler: sched, now: func() time.Time { return fixedNow }}
	reply, _ := r.Invoke(context.Background(), domain.Arguments{Raw: "me in 5 seconds", Session: session()})
	assert.Equal(t, `Reminder set for "do that thing" in 5 second(s).`, reply.Text)
}

func TestReminder_RejectsPastAndGarbage(t *testing.T) {
	sched := &fakeScheduler{}
	r := &Reminder{scheduler: sched, now: func() time.Time { return fixedNow }}

	reply, _ := r.Invoke(context.Background(), domain.Arguments{Raw: "me on 01.01.2020", Session: session()})
	assert.Contains(t, reply.Text, "in the past")

	reply, _ = r.Invoke(context.Background(), domain.Arguments{Raw: "me to do stuff someday", Session: session()})
	assert.Contains(t, reply.Text, "not sure when")

	reply, _ = r.Invoke(context.Background(), domain.Arguments{Raw: "me on 31.02.2030", Session: session()})
	assert.Contains(t, reply.Text, "not sure when")
	assert.Empty(t, sched.added)
}

func TestReminder_SchedulerError(t *testing.T) {
	r := &Reminder{scheduler: &fakeScheduler{err: errors.New("disk full")}, now: func() time.Time { return fixedNow }}
	_, err := r.Invoke(context.Background(), domain.Arguments{Raw: "me in 1 hour", Session: session()})
	assert.Error(t, err)
}

// --- timers ---

func TestTimerUnit(t *testing.T) {
	sched := &fakeScheduler{}
	u := &TimerUnit{unit: "minute", scheduler: sched, now: func() time.Time { return fixedNow }}

	reply, err := u.Invoke(context.Background(), domain.Arguments{Session: session()})
	require.NoError(t, err)
	assert.True(t, reply.Empty(), "no number, no timer")

	n := 5.0
	reply, err = u.Invoke(context.Background(), domain.Arguments{Number: &n, Session: session()})
	require.NoError(t, err)
	assert.Equal(t, "Timer started for **5 minute(s)**", reply.Text)
	require.Len(t, sched.added, 1)
	assert.Equal(t, reminder.KindTimer, sched.added[0].Kind)
	assert.Equal(t, fixedNow.Add(5*time.Minute).UnixMilli(), sched.added[0].TriggerAt)
}

func TestTimerUnit_RejectsOverADay(t *testing.T) {
	u := &TimerUnit{unit: "hour", scheduler: &fakeScheduler{}, now: func() time.Time { return fixedNow }}
	n := 25.0
	reply, _ := u.Invoke(context.Background(), domain.Arguments{Number: &n, Session: session()})
	assert.Contains(t, reply.Text, "between 0 and 24 hours")
}

func TestParseTimer(t *testing.T) {
	cases := []struct {
		in     string
		amount float64
		unit   string
	}{
		{"5m", 5, "minute"},
		{"30s", 30, "second"},
		{"1h", 1, "hour"},
		{"1:30", 90, "second"},
		{"1:00:05", 3605, "second"},
		{"for 5 minutes", 5, "minute"},
		{"for 2 hrs please", 2, "hour"},
		{"12", 12, "minute"},
	}
	for _, c := range cases {
		amount, unit, ok := parseTimer(c.in)
		if assert.True(t, ok, c.in) {
			assert.Equal(t, c.amount, amount, c.in)
			assert.Equal(t, c.unit, unit, c.in)
		}
	}
	_, _, ok := parseTimer("soon")
	assert.False(t, ok)
}

func TestTimer_Usage(t *testing.T) {
	tm := &Timer{scheduler: &fakeScheduler{}, now: func() time.Time { return fixedNow }}
	reply, err := tm.Invoke(context.Background(), domain.Arguments{Raw: "please", Session: session()})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Tell me how long")
}

// --- mirror / visualize / date ---

func TestMirror(t *testing.T) {
	m := &Mirror{proxyBase: "http://proxy.local/proxy?url="}
	reply, err := m.Invoke(context.Background(), domain.Arguments{Raw: "wikipedia.org"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, `<iframe src="https://wikipedia.org"`)
	assert.Contains(t, reply.Text, `http://proxy.local/proxy?url=https%3A%2F%2Fwikipedia.org`)

	reply, _ = m.Invoke(context.Background(), domain.Arguments{Raw: ""})
	assert.Contains(t, reply.Text, "Please provide a website")

	reply, _ = m.Invoke(context.Background(), domain.Arguments{Raw: "HTTP://Example.com/a"})
	assert.Contains(t, reply.Text, `src="http://Example.com/a"`)
}

func TestVisualize(t *testing.T) {
	v := &Visualize{model: "https://models/astronaut.glb", script: "https://cdn/model-viewer.js"}

	reply, _ := v.Invoke(context.Background(), domain.Arguments{Trigger: "visualize", Tokens: []string{"this"}})
	assert.True(t, reply.Empty())

	reply, _ = v.Invoke(context.Background(), domain.Arguments{Trigger: "visualize", Tokens: []string{"in", "3d"}, Raw: "in 3d"})
	assert.Contains(t, reply.Text, `<model-viewer src="https://models/astronaut.glb"`)

	reply, _ = v.Invoke(context.Background(), domain.Arguments{Trigger: "3d", Raw: "https://x.dev/car.GLB"})
	assert.Contains(t, reply.Text, `src="https://x.dev/car.GLB"`)
}

func TestDate(t *testing.T) {
	reply, err := Date{}.Invoke(context.Background(), domain.Arguments{Raw: "is 19.11.2025 or 12/31/2024 free? also 2024-02-30"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "19.11.2025 → **2025-11-19** (dd.mm.yyyy)")
	assert.Contains(t, reply.Text, "12/31/2024 → **2024-12-31** (mm/dd/yyyy)")
	assert.NotContains(t, reply.Text, "2024-02-30 →")

	reply, _ = Date{}.Invoke(context.Background(), domain.Arguments{Raw: "tomorrow"})
	assert.True(t, reply.Empty())
}

// --- the ---

func TestLookupTerm(t *testing.T) {
	cases := map[string]string{
		"moon":         "moon",
		"eiffel tower": "eiffel tower",
		"big ox":       "big",
	}
	for in, want := range cases {
		got, ok := lookupTerm(strings.Fields(in))
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "dog for me", "weather", "way to go", "an", "one two three"} {
		_, ok := lookupTerm(strings.Fields(in))
		assert.False(t, ok, in)
	}
}

func TestThe_RendersCardWithAttachment(t *testing.T) {
	w := &fakeWiki{summary: &wiki.Summary{Title: "Moon", Extract: "Earth's <satellite>.", Thumbnail: "https://img/moon.jpg", URL: "https://en.wikipedia.org/wiki/Moon"}}
	th := &The{wiki: w, cooldown: 2 * time.Second, now: func() time.Time { return fixedNow }, logger: testLogger()}

	reply, err := th.Invoke(context.Background(), domain.Arguments{Tokens: []string{"moon"}, Session: session()})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, `<img src="https://img/moon.jpg"`)
	assert.Contains(t, reply.Text, "Earth&#39;s &lt;satellite&gt;.")
	assert.Equal(t, []string{"https://img/moon.jpg"}, reply.Attachments)
}

func TestThe_Cooldown(t *testing.T) {
	now := fixedNow
	w := &fakeWiki{summary: &wiki.Summary{Title: "Moon", Extract: "x", URL: "u"}}
	th := &The{wiki: w, cooldown: 2 * time.Second, now: func() time.Time { return now }, logger: testLogger()}
	s := session()

	th.Invoke(context.Background(), domain.Arguments{Tokens: []string{"moon"}, Session: s})
	reply, _ := th.Invoke(context.Background(), domain.Arguments{Tokens: []string{"sun"}, Session: s})
	assert.True(t, reply.Empty())

	now = now.Add(3 * time.Second)
	reply, _ = th.Invoke(context.Background(), domain.Arguments{Tokens: []string{"sun"}, Session: s})
	assert.False(t, reply.Empty())
	assert.Equal(t, []string{"moon", "sun"}, w.terms)
}

func TestThe_NoData(t *testing.T) {
	th := &The{wiki: &fakeWiki{err: wiki.ErrNoData}, now: func() time.Time { return fixedNow }, logger: testLogger()}
	reply, err := th.Invoke(context.Background(), domain.Arguments{Tokens: []string{"mercury"}, Session: session()})
	require.NoError(t, err)
	assert.True(t, reply.Empty())
}

// --- wiring through the dispatch loop ---

func newCommandLoop(t *testing.T, d Deps) *dispatch.Loop {
	t.Helper()
	catalog := dispatch.NewCatalog()
	Register(catalog, d)
	return dispatch.NewLoop(dispatch.LoopConfig{
		Resolver: dispatch.NewResolver(dispatch.ResolverConfig{
			Registry: dispatch.RegistryFromMap(config.DefaultCommands()),
			Catalog:  catalog,
			Logger:   testLogger(),
		}),
		Timeout: time.Second,
		Logger:  testLogger(),
	})
}

func TestDispatch_RemindSentence(t *testing.T) {
	sched := &fakeScheduler{}
	loop := newCommandLoop(t, Deps{Scheduler: sched, Now: func() time.Time { return fixedNow }, Logger: testLogger()})

	results := loop.Dispatch(context.Background(), dispatch.Split("remind me to call mom in 10 minutes"), session())
	outputs := dispatch.Outputs(results)
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0].Text, "10 minute(s)")
	assert.Len(t, sched.added, 1, "the trailing number+unit must not start a second timer")
}

func TestDispatch_WeatherParis(t *testing.T) {
	loop := newCommandLoop(t, Deps{
		Weather: &fakeWeather{current: func(q string) (*weather.Report, error) {
			assert.Equal(t, "Paris", q)
			return parisReport(), nil
		}},
		Logger: testLogger(),
	})
	results := loop.Dispatch(context.Background(), dispatch.Split("weather Paris"), session())
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusMatched, results[0].Status)
	assert.Contains(t, results[0].Output.Text, "<img")
}

func TestDispatch_FiveMinutes(t *testing.T) {
	sched := &fakeScheduler{}
	loop := newCommandLoop(t, Deps{Scheduler: sched, Now: func() time.Time { return fixedNow }, Logger: testLogger()})

	results := loop.Dispatch(context.Background(), dispatch.Split("5 minutes"), session())
	require.Len(t, results, 1)
	assert.Equal(t, "minutes", results[0].Token)
	assert.Equal(t, "Timer started for **5 minute(s)**", results[0].Output.Text)
}

func TestRegister_MissingServicesResolveToNothing(t *testing.T) {
	loop := newCommandLoop(t, Deps{Logger: testLogger()})
	results := loop.Dispatch(context.Background(), dispatch.Split("weather Paris"), session())
	require.NotEmpty(t, results)
	assert.NotEqual(t, domain.StatusMatched, results[0].Status)
	assert.Empty(t, dispatch.Outputs(results))
}
