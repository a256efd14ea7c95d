package command

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"wordchat/internal/domain"
)

// Mirror embeds a website in an iframe, with a link through the configured
// proxy for sites that refuse framing.
type Mirror struct {
	greedy
	proxyBase string
}

func (m *Mirror) Name() string { return "mirror" }

func (m *Mirror) Invoke(_ context.Context, args domain.Arguments) (domain.Reply, error) {
	target, ok := normalizeURL(args.Raw)
	if !ok {
		return domain.Reply{Text: "Please provide a website to mirror. For example: `mirror wikipedia.org`"}, nil
	}

	var sb strings.Builder
	sb.WriteString(`<div class="mirrored-site-container">`)
	fmt.Fprintf(&sb, `<div class="mirror-controls">Mirroring: <a href="%[1]s" target="_blank" rel="noopener noreferrer">%[1]s</a></div>`, html.EscapeString(target))
	fmt.Fprintf(&sb, `<iframe src="%s" style="width: 100%%; height: 400px; border: 1px solid #ccc; border-radius: 8px; background-color: #fff;" title="Mirrored content" sandbox="allow-scripts allow-same-origin allow-forms" allow="fullscreen"></iframe>`, html.EscapeString(target))
	if m.proxyBase != "" {
		proxied := m.proxyBase + url.QueryEscape(target)
		fmt.Fprintf(&sb, `<p class="mirror-status">Blank page? <a href="%s" target="_blank" rel="noopener noreferrer">Open it through the proxy</a>.</p>`, html.EscapeString(proxied))
	}
	sb.WriteString(`</div>`)
	return domain.Reply{Text: sb.String()}, nil
}

// normalizeURL takes the first word of raw as a URL, adding https:// when no
// scheme is present.
func normalizeURL(raw string) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	candidate := strings.TrimRight(fields[0], ",!?")
	lower := strings.ToLower(candidate)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", false
	}
	return u.String(), true
}
