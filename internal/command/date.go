package command

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wordchat/internal/domain"
)

type dateFormat struct {
	name  string
	re    *regexp.Regexp
	order [3]int // submatch indexes of year, month, day
}

var dateFormats = []dateFormat{
	{"dd.mm.yyyy", regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`), [3]int{3, 2, 1}},
	{"mm/dd/yyyy", regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`), [3]int{3, 1, 2}},
	{"yyyy-mm-dd", regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`), [3]int{1, 2, 3}},
}

// Date rewrites dates found after the trigger in ISO form.
type Date struct{}

func (Date) Name() string { return "date" }

func (Date) Invoke(_ context.Context, args domain.Arguments) (domain.Reply, error) {
	var lines []string
	for _, f := range dateFormats {
		for _, m := range f.re.FindAllStringSubmatch(args.Raw, -1) {
			year, _ := strconv.Atoi(m[f.order[0]])
			month, _ := strconv.Atoi(m[f.order[1]])
			day, _ := strconv.Atoi(m[f.order[2]])
			t, ok := validDate(year, month, day)
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s → **%s** (%s)", m[0], t.Format("2006-01-02"), f.name))
		}
	}
	if len(lines) == 0 {
		return domain.Reply{}, nil
	}
	return domain.Reply{Text: strings.Join(lines, "\n")}, nil
}
