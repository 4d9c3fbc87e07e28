// Package rewrite transforms app scripts so their document, storage,
// navigation, and history calls resolve against per-app scoped
// functions instead of the page globals. The transformation is purely
// lexical: fixed substring substitutions plus two assignment regexes,
// applied without parsing. Collisions inside string literals or
// comments are an accepted cost of that approach.
package rewrite

import (
	"regexp"
	"strings"
)

// Rewriter turns raw app script source into its scoped form and
// reports the top-level functions the markup may reference.
type Rewriter interface {
	Rewrite(src string) string
	Functions(src string) []string
}

// callPatterns maps page-global call sites to scoped equivalents.
// Order matters: querySelectorAll must precede querySelector so the
// longer pattern wins at a shared position.
var callPatterns = []string{
	"document.querySelectorAll(", "querySelectorAll(",
	"document.querySelector(", "querySelector(",
	"document.getElementById(", "getElementById(",
	"document.getElementsByClassName(", "getElementsByClassName(",
	"document.getElementsByTagName(", "getElementsByTagName(",
	"document.getElementsByName(", "getElementsByName(",
	"document.head.appendChild(", "appendToHead(",
	"document.body.appendChild(", "appendToBody(",
	"localStorage.setItem", "setAppStorage",
	"localStorage.getItem", "getAppStorage",
	"localStorage.removeItem", "removeAppStorage",
	"localStorage.clear", "clearAppStorage",
	"sessionStorage.setItem", "setAppSessionStorage",
	"sessionStorage.getItem", "getAppSessionStorage",
	"sessionStorage.removeItem", "removeAppSessionStorage",
	"sessionStorage.clear", "clearAppSessionStorage",
	"window.location.reload(", "reloadApp(",
	"window.history.pushState(", "pushAppHistory(",
	"window.history.replaceState(", "replaceAppHistory(",
}

// Assignments need a regex because the right-hand side is re-wrapped
// as a call argument. The `[^=;]` guard keeps comparison operators
// (==, ===) from matching.
var (
	hrefAssign = regexp.MustCompile(`window\.location\.href\s*=\s*([^=;][^;]*);`)
	locAssign  = regexp.MustCompile(`document\.location\s*=\s*([^=;][^;]*);`)

	topLevelFunc = regexp.MustCompile(`(?m)^(?:async[ \t]+)?function[ \t]+([A-Za-z_$][A-Za-z0-9_$]*)[ \t]*\(`)
)

// Lexical is the shipped Rewriter.
type Lexical struct {
	replacer *strings.Replacer
}

// New creates the lexical rewriter.
func New() *Lexical {
	return &Lexical{replacer: strings.NewReplacer(callPatterns...)}
}

// Rewrite substitutes every known pattern. Sources with no matches
// come back unchanged; rewriting never fails.
func (l *Lexical) Rewrite(src string) string {
	src = replaceAssign(src, hrefAssign)
	src = replaceAssign(src, locAssign)
	return l.replacer.Replace(src)
}

// Functions returns the names of column-zero function declarations in
// source order, first occurrence only.
func (l *Lexical) Functions(src string) []string {
	matches := topLevelFunc.FindAllStringSubmatch(src, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// replaceAssign rewrites one assignment pattern into a setAppLocation
// call, trimming the captured right-hand side.
func replaceAssign(src string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(src, func(m string) string {
		sub := re.FindStringSubmatch(m)
		return "setAppLocation(" + strings.TrimSpace(sub[1]) + ");"
	})
}
