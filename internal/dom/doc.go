// Package dom holds the server-resident document the shell renders
// windows into. The view in the browser is a thin mirror: every
// mutation made here is journaled and streamed out, and input events
// come back addressed to node refs assigned by this package.
//
// Built on goquery for CSS-selector queries and manipulation, with
// cascadia compiled directly so malformed selectors from app scripts
// miss instead of panicking.
package dom
