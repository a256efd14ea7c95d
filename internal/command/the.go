package command

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"wordchat/internal/domain"
	"wordchat/internal/wiki"
)

var (
	// Words that mean the sentence is a command for another handler.
	commandWords = wordSet("visualize", "3d", "weather", "remind", "remember", "mirror", "timer", "play", "stop", "pause")

	// Words that mark a conversational sentence rather than a subject.
	conversationalWords = wordSet(
		"me", "you", "him", "her", "us", "them", "my", "your",
		"is", "are", "was", "were", "be",
		"help", "clean", "make", "do", "did", "go", "run",
		"to", "for", "with", "from", "by", "about",
		"please", "hello", "hi", "hey",
	)

	lookupStopWords = wordSet(
		"the", "a", "an", "in", "on", "at", "of", "and", "or",
		"well", "back", "thanks", "thank", "okay", "ok", "bye",
		"image", "images", "picture", "pictures", "photo", "photos", "show", "detail", "details",
	)
)

const maxLookupWords = 2

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// The looks up the subject that follows "the" in the encyclopedia. Sentences
// that read like conversation are left alone.
type The struct {
	greedy
	wiki     Encyclopedia
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func (t *The) Name() string { return "the" }

func (t *The) Invoke(ctx context.Context, args domain.Arguments) (domain.Reply, error) {
	term, ok := lookupTerm(args.Tokens)
	if !ok {
		return domain.Reply{}, nil
	}
	if args.Session != nil && !args.Session.TryLookup(t.now().UnixMilli(), t.cooldown.Milliseconds()) {
		t.logger.Debug("lookup skipped: cooldown", "term", term)
		return domain.Reply{}, nil
	}

	s, err := t.wiki.Lookup(ctx, term)
	if errors.Is(err, wiki.ErrNoData) {
		return domain.Reply{}, nil
	}
	if err != nil {
		return domain.Reply{}, fmt.Errorf("lookup %q: %w", term, err)
	}

	image := s.Image
	if image == "" {
		image = s.Thumbnail
	}

	var sb strings.Builder
	sb.WriteString(`<div class="wiki-result">`)
	if image != "" {
		fmt.Fprintf(&sb, `<a href="%s" target="_blank" rel="noopener noreferrer" class="wiki-image-link"><img src="%s" alt="%s" class="wiki-image" loading="lazy"></a>`,
			html.EscapeString(s.URL), html.EscapeString(image), html.EscapeString(s.Title))
	}
	fmt.Fprintf(&sb, `<h3 class="wiki-title"><a href="%s" target="_blank" rel="noopener noreferrer">%s</a></h3>`,
		html.EscapeString(s.URL), html.EscapeString(s.Title))
	fmt.Fprintf(&sb, `<p class="wiki-text">%s</p></div>`, html.EscapeString(s.Extract))

	reply := domain.Reply{Text: sb.String()}
	if image != "" {
		reply.Attachments = []string{image}
	}
	return reply, nil
}

// lookupTerm picks the subject from the tokens after "the". It refuses long
// phrases, commands and conversational sentences.
func lookupTerm(tokens []string) (string, bool) {
	if len(tokens) == 0 || len(tokens) > maxLookupWords {
		return "", false
	}
	var words []string
	for _, tok := range tokens {
		if commandWords[tok] || conversationalWords[tok] {
			return "", false
		}
		if len([]rune(tok)) >= 3 && !lookupStopWords[tok] {
			words = append(words, tok)
		}
	}
	if len(words) == 0 {
		return "", false
	}
	return strings.Join(words, " "), true
}
