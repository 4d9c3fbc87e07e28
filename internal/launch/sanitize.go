package launch

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// blockedEndpoints are backend routes user apps may never call. The
// scan is a case-insensitive substring match over the raw markup,
// scripts included, so an app cannot hide a call in a handler string.
var blockedEndpoints = []string{
	"/api/virtual-files/delete/",
	"/api/preferences/reset",
	"/api/services/start/",
	"/api/services/stop/",
}

const blockedTemplate = `<div class="app-container">
<div class="app-header">
<h2><i class="fas fa-shield-alt"></i> Access Denied</h2>
<p>This app has been blocked for security reasons</p>
</div>
<div class="app-content">
<div class="app-blocked">
<i class="fas fa-ban"></i>
<h3>Security Restriction</h3>
<p>This app attempted to access restricted system endpoints.</p>
<div class="app-blocked-detail">
<p><strong>App:</strong> %s<br><strong>Blocked endpoints:</strong> %s</p>
</div>
<p>User apps may not call system management endpoints.</p>
</div>
</div>
</div>`

// Sanitizer guards user-app markup. Clean markup passes through byte
// for byte; markup referencing any blocked endpoint is replaced
// entirely with a warning block.
type Sanitizer struct {
	strict *bluemonday.Policy
}

// NewSanitizer builds the guard. The strict policy strips any markup
// smuggled in through the app id before it is interpolated into the
// warning block.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{strict: bluemonday.StrictPolicy()}
}

// Sanitize scans markup and returns the markup to host plus the list
// of blocked endpoints it referenced, nil when clean.
func (s *Sanitizer) Sanitize(appID, markup string) (string, []string) {
	lower := strings.ToLower(markup)
	var found []string
	for _, ep := range blockedEndpoints {
		if strings.Contains(lower, ep) {
			found = append(found, ep)
		}
	}
	if len(found) == 0 {
		return markup, nil
	}

	safeID := s.strict.Sanitize(appID)
	safeList := s.strict.Sanitize(strings.Join(found, ", "))
	return fmt.Sprintf(blockedTemplate, safeID, safeList), found
}
