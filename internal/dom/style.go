package dom

import "strings"

// styleGet pulls one property out of an inline style string.
func styleGet(style, name string) string {
	for _, decl := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(prop) == name {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// styleSet updates one property in an inline style string, preserving
// declaration order. Empty value removes the property.
func styleSet(style, name, value string) string {
	var decls []string
	replaced := false

	for _, decl := range strings.Split(style, ";") {
		prop, _, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(prop) == name {
			replaced = true
			if value != "" {
				decls = append(decls, name+": "+value)
			}
			continue
		}
		decls = append(decls, strings.TrimSpace(decl))
	}

	if !replaced && value != "" {
		decls = append(decls, name+": "+value)
	}
	return strings.Join(decls, "; ")
}
