package launch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/nimbusos/shell/internal/shared/types"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// expandPlaceholders fills {{KEY}} slots from the app's stored settings,
// falling back to the manifest descriptor defaults. Unknown keys stay
// verbatim so a typo is visible instead of silently blanked.
func expandPlaceholders(markup string, stored map[string]string, specs []types.SettingSpec) string {
	defaults := make(map[string]string, len(specs))
	for _, sp := range specs {
		defaults[sp.Key] = string(sp.Value)
	}
	return placeholderPattern.ReplaceAllStringFunc(markup, func(m string) string {
		key := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := stored[key]; ok {
			return v
		}
		if v, ok := defaults[key]; ok {
			return v
		}
		return m
	})
}

// extractScripts splits app markup into inline script bodies (document
// order), external script sources (dropped; they cannot run in the
// sandbox), and the remaining HTML for the window's content area.
func extractScripts(markup string) (scripts, external []string, rest string, err error) {
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, nil, "", fmt.Errorf("parse app markup: %w", err)
	}

	for _, n := range htmlquery.Find(root, "//script") {
		if src := htmlquery.SelectAttr(n, "src"); src != "" {
			external = append(external, src)
		} else if body := htmlquery.InnerText(n); strings.TrimSpace(body) != "" {
			scripts = append(scripts, body)
		}
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	// The parser splits a fragment into head and body; style tags land
	// in head, visible markup in body. Both belong to the content area.
	var b strings.Builder
	for _, xp := range []string{"//head", "//body"} {
		section := htmlquery.FindOne(root, xp)
		if section == nil {
			continue
		}
		for c := section.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&b, c); err != nil {
				return nil, nil, "", fmt.Errorf("render app markup: %w", err)
			}
		}
	}
	return scripts, external, b.String(), nil
}

var resizeDirs = []string{"n", "s", "e", "w", "ne", "nw", "se", "sw"}

// windowMarkup builds the window chrome: header with title and
// controls, the content area, and the eight resize handles the view
// hit-tests against. All interpolations are attribute/text escaped.
func windowMarkup(appID, title, icon string) string {
	var handles strings.Builder
	for _, dir := range resizeDirs {
		fmt.Fprintf(&handles, `<div class="resize-handle resize-%s" data-dir="%s"></div>`, dir, dir)
	}

	id := html.EscapeString(appID)
	return fmt.Sprintf(`<div class="window" data-shell-app="%s">`+
		`<div class="window-header" data-drag-target="%s">`+
		`<div class="window-title"><i class="%s"></i><span>%s</span></div>`+
		`<div class="window-controls">`+
		`<button class="window-minimize" title="Minimize"><i class="fas fa-window-minimize"></i></button>`+
		`<button class="window-maximize" title="Maximize"><i class="fas fa-window-maximize"></i></button>`+
		`<button class="window-close" title="Close"><i class="fas fa-times"></i></button>`+
		`</div></div>`+
		`<div class="window-content"></div>%s</div>`,
		id, id, html.EscapeString(icon), html.EscapeString(title), handles.String())
}
