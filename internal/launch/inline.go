package launch

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/dom"
	"github.com/nimbusos/shell/internal/sandbox"
)

// inlineEvents are the markup handler attributes recognized on app
// elements. Anything outside this list stays inert.
var inlineEvents = []string{
	"click", "dblclick", "change", "input", "submit",
	"keydown", "keyup", "mousedown", "mouseup", "focus", "blur",
}

// inlineCall matches the handler shapes apps actually write: a bare
// function name, or a zero-argument call, optionally passing the
// event and with a trailing semicolon. Anything richer is dropped
// rather than evaluated.
var inlineCall = regexp.MustCompile(`^\s*([A-Za-z_$][A-Za-z0-9_$]*)\s*(?:\(\s*(?:event)?\s*\))?\s*;?\s*$`)

// parseInlineHandler extracts the function name from an on* attribute
// value. Reports false when the value is not a simple call.
func parseInlineHandler(value string) (string, bool) {
	m := inlineCall.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// bindInlineHandlers translates on* attributes in the mounted content
// into dispatcher registrations against the app's function registry.
// The attributes are stripped either way so handler text never reaches
// the view.
func (o *Orchestrator) bindInlineHandlers(appID string, content *dom.Element, handle *sandbox.Handle) {
	for _, event := range inlineEvents {
		attr := "on" + event
		for _, el := range content.QuerySelectorAll("[" + attr + "]") {
			value, _ := el.Attr(attr)
			el.RemoveAttr(attr)

			name, ok := parseInlineHandler(value)
			if !ok {
				o.log.Warn("inline handler dropped",
					zap.String("app_id", appID),
					zap.String("event", event),
					zap.String("value", strings.TrimSpace(value)))
				continue
			}
			if !handle.BindFunction(el, event, name) {
				o.log.Warn("inline handler unresolved",
					zap.String("app_id", appID),
					zap.String("event", event),
					zap.String("function", name))
			}
		}
	}
}
