// Package launch turns an app id into a mounted window: fetch the
// manifest and markup (local registry first, then the OS backend),
// refuse system services, sanitize and expand user-app markup, split
// inline scripts out of the HTML, rewrite and mount them in a sandbox,
// and hand the window manager a Prepared it can register.
//
// Failures before any DOM exists abort the open with a notification.
// A script error during mount degrades to a partial window instead,
// so the user can still close what appeared.
package launch
