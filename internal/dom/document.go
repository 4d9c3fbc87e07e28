package dom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// MutationType classifies one journaled document change.
type MutationType string

const (
	MutSetHTML     MutationType = "set_html"
	MutSetText     MutationType = "set_text"
	MutSetAttr     MutationType = "set_attr"
	MutRemoveAttr  MutationType = "remove_attr"
	MutSetStyle    MutationType = "set_style"
	MutAddClass    MutationType = "add_class"
	MutRemoveClass MutationType = "remove_class"
	MutAppend      MutationType = "append"
	MutRemove      MutationType = "remove"
	MutSetValue    MutationType = "set_value"
)

// Mutation is one view-applicable document change. Target addresses the
// node by its ref; Append targets the parent and carries the markup.
type Mutation struct {
	Type   MutationType `json:"type"`
	Target string       `json:"target"`
	Name   string       `json:"name,omitempty"`
	Value  string       `json:"value,omitempty"`
	HTML   string       `json:"html,omitempty"`
}

// journalCap bounds the pending-mutation journal. Overflow drops the
// journal and forces a full re-render on the next drain.
const journalCap = 4096

// Document is the shell's server-side DOM. All access is serialized
// internally; Elements obtained from it share its lock.
type Document struct {
	mu      sync.RWMutex
	doc     *goquery.Document
	refSeq  int64
	journal []Mutation
	overrun bool
	onWake  func()
}

// NewDocument parses markup into a document. Fragments are wrapped in
// html/head/body by the parser. Every element is ref-tagged up front so
// mutations and events can address any node the view has seen.
func NewDocument(markup string) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	d := &Document{doc: gq}
	d.tagAll(gq.Find("*"))
	return d, nil
}

// SetOnMutation registers a callback invoked after every mutation
// batch, outside the document lock. Used by the gateway to wake the
// view broadcaster.
func (d *Document) SetOnMutation(fn func()) {
	d.mu.Lock()
	d.onWake = fn
	d.mu.Unlock()
}

// HTML renders the full document.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.Html()
}

// Body returns the document body.
func (d *Document) Body() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.doc.Find("body").First())
}

// Head returns the document head.
func (d *Document) Head() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.doc.Find("head").First())
}

// QuerySelector returns the first match or nil. Malformed selectors
// match nothing.
func (d *Document) QuerySelector(selector string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return first(d, d.doc.Selection, selector)
}

// QuerySelectorAll returns every match in document order.
func (d *Document) QuerySelectorAll(selector string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return all(d, d.doc.Selection, selector)
}

// GetElementByID returns the element with the given id attribute, or
// nil when absent.
func (d *Document) GetElementByID(id string) *Element {
	return d.QuerySelector("[id=" + strconv.Quote(id) + "]")
}

// ByRef resolves a node ref back to its element, or nil if the node
// has left the document.
func (d *Document) ByRef(ref string) *Element {
	return d.QuerySelector("[data-sn=" + strconv.Quote(ref) + "]")
}

// RemoveAppNodes deletes every node tagged with the given app id
// (head/body appends made by the app's sandbox). Returns the count.
func (d *Document) RemoveAppNodes(appID string) int {
	d.mu.Lock()
	sel := d.findMatcher(d.doc.Selection, "[data-shell-app="+strconv.Quote(appID)+"]")
	n := sel.Length()
	refs := make([]string, 0, n)
	sel.Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, d.refFor(s))
	})
	sel.Remove()
	for _, ref := range refs {
		d.record(Mutation{Type: MutRemove, Target: ref})
	}
	d.mu.Unlock()

	if n > 0 {
		d.wake()
	}
	return n
}

// Drain returns the pending mutations and clears the journal. resync
// reports journal overflow; the caller must fall back to a full
// re-render because intermediate changes were dropped.
func (d *Document) Drain() (muts []Mutation, resync bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resync = d.overrun
	d.overrun = false
	muts = d.journal
	d.journal = nil
	if resync {
		return nil, true
	}
	return muts, false
}

// Pending reports the number of undrained mutations.
func (d *Document) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.journal)
}

// wrap builds an Element for a selection's first node; nil when empty.
// Callers hold d.mu.
func (d *Document) wrap(sel *goquery.Selection) *Element {
	if sel.Length() == 0 {
		return nil
	}
	return &Element{doc: d, sel: sel.First()}
}

// findMatcher runs a compiled CSS query under the caller's lock.
// Malformed selectors yield an empty selection.
func (d *Document) findMatcher(scope *goquery.Selection, selector string) *goquery.Selection {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return scope.FindMatcher(nopMatcher{})
	}
	return scope.FindMatcher(m)
}

// refFor assigns (once) and returns the node ref used by the view to
// address this node. Callers hold d.mu.
func (d *Document) refFor(sel *goquery.Selection) string {
	if ref, ok := sel.Attr("data-sn"); ok && ref != "" {
		return ref
	}
	d.refSeq++
	ref := "sn-" + strconv.FormatInt(d.refSeq, 10)
	sel.SetAttr("data-sn", ref)
	return ref
}

// tagAll assigns refs to every element in the selection. Callers hold
// d.mu (or own the document exclusively during construction).
func (d *Document) tagAll(sel *goquery.Selection) {
	sel.Each(func(_ int, s *goquery.Selection) {
		d.refFor(s)
	})
}

// record appends one journal entry. Callers hold d.mu.
func (d *Document) record(m Mutation) {
	if d.overrun {
		return
	}
	if len(d.journal) >= journalCap {
		d.journal = nil
		d.overrun = true
		return
	}
	d.journal = append(d.journal, m)
}

// wake invokes the mutation callback outside the lock.
func (d *Document) wake() {
	d.mu.RLock()
	fn := d.onWake
	d.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// first wraps the first selector match. Callers hold d.mu.
func first(d *Document, scope *goquery.Selection, selector string) *Element {
	return d.wrap(d.findMatcher(scope, selector).First())
}

// all wraps every selector match. Callers hold d.mu.
func all(d *Document, scope *goquery.Selection, selector string) []*Element {
	sel := d.findMatcher(scope, selector)
	out := make([]*Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{doc: d, sel: s})
	})
	return out
}

// nopMatcher matches nothing; stands in for unparseable selectors.
type nopMatcher struct{}

func (nopMatcher) Match(*html.Node) bool            { return false }
func (nopMatcher) MatchAll(*html.Node) []*html.Node { return nil }
func (nopMatcher) Filter(ns []*html.Node) []*html.Node {
	return nil
}
