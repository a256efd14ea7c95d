package command

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"slices"
	"strings"

	"wordchat/internal/domain"
)

// Visualize renders a 3D model viewer. It stays silent unless "3d" is part of
// the request.
type Visualize struct {
	greedy
	model  string
	script string
}

func (v *Visualize) Name() string { return "visualize" }

func (v *Visualize) Invoke(_ context.Context, args domain.Arguments) (domain.Reply, error) {
	if args.Trigger != "3d" && !slices.Contains(args.Tokens, "3d") {
		return domain.Reply{}, nil
	}

	model := v.model
	for _, w := range strings.Fields(args.Raw) {
		w = strings.TrimRight(w, ",!?")
		lower := strings.ToLower(w)
		if !strings.HasSuffix(lower, ".glb") && !strings.HasSuffix(lower, ".gltf") {
			continue
		}
		if u, err := url.Parse(w); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			model = u.String()
			break
		}
	}
	if model == "" {
		return domain.Reply{Text: "No 3D model is configured. Add a .glb link, like: **3d https://example.com/model.glb**"}, nil
	}

	text := fmt.Sprintf(`<div class="viz-container"><script type="module" src="%s"></script>`+
		`<model-viewer src="%s" alt="3D model" camera-controls auto-rotate ar shadow-intensity="1" style="width: 100%%; height: 400px;"></model-viewer></div>`,
		html.EscapeString(v.script), html.EscapeString(model))
	return domain.Reply{Text: text}, nil
}
