package dom

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Element is a handle on one document node. Handles share the owning
// document's lock, so they are safe to use from concurrent callers.
type Element struct {
	doc *Document
	sel *goquery.Selection
}

// Ref returns the node ref the view uses to address this element.
func (e *Element) Ref() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.refFor(e.sel)
}

// ID returns the id attribute.
func (e *Element) ID() string {
	return e.AttrOr("id", "")
}

// TagName returns the element's tag in upper case, matching what
// scripts expect from a browser document.
func (e *Element) TagName() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return strings.ToUpper(goquery.NodeName(e.sel))
}

// Attr returns an attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel.Attr(name)
}

// AttrOr returns an attribute value or the fallback when absent.
func (e *Element) AttrOr(name, fallback string) string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel.AttrOr(name, fallback)
}

// SetAttr sets an attribute.
func (e *Element) SetAttr(name, value string) {
	e.doc.mu.Lock()
	e.sel.SetAttr(name, value)
	e.doc.record(Mutation{Type: MutSetAttr, Target: e.doc.refFor(e.sel), Name: name, Value: value})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// RemoveAttr removes an attribute.
func (e *Element) RemoveAttr(name string) {
	e.doc.mu.Lock()
	e.sel.RemoveAttr(name)
	e.doc.record(Mutation{Type: MutRemoveAttr, Target: e.doc.refFor(e.sel), Name: name})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// Data returns a data-* attribute by its unprefixed name.
func (e *Element) Data(name string) string {
	return e.AttrOr("data-"+name, "")
}

// HasClass reports whether the class list contains name.
func (e *Element) HasClass(name string) bool {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel.HasClass(name)
}

// AddClass adds a class.
func (e *Element) AddClass(name string) {
	e.doc.mu.Lock()
	e.sel.AddClass(name)
	e.doc.record(Mutation{Type: MutAddClass, Target: e.doc.refFor(e.sel), Name: name})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// RemoveClass removes a class.
func (e *Element) RemoveClass(name string) {
	e.doc.mu.Lock()
	e.sel.RemoveClass(name)
	e.doc.record(Mutation{Type: MutRemoveClass, Target: e.doc.refFor(e.sel), Name: name})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// ToggleClass flips a class and reports whether it is now present.
func (e *Element) ToggleClass(name string) bool {
	e.doc.mu.Lock()
	e.sel.ToggleClass(name)
	present := e.sel.HasClass(name)
	typ := MutRemoveClass
	if present {
		typ = MutAddClass
	}
	e.doc.record(Mutation{Type: typ, Target: e.doc.refFor(e.sel), Name: name})
	e.doc.mu.Unlock()
	e.doc.wake()
	return present
}

// Text returns the concatenated descendant text.
func (e *Element) Text() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.sel.Text()
}

// SetText replaces the element's content with escaped text.
func (e *Element) SetText(text string) {
	e.doc.mu.Lock()
	e.sel.SetHtml(html.EscapeString(text))
	e.doc.record(Mutation{Type: MutSetText, Target: e.doc.refFor(e.sel), Value: text})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// InnerHTML renders the element's content.
func (e *Element) InnerHTML() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	h, _ := e.sel.Html()
	return h
}

// SetInnerHTML replaces the element's content with markup. Inserted
// nodes are ref-tagged before the change is journaled so the view can
// address them later.
func (e *Element) SetInnerHTML(markup string) {
	e.doc.mu.Lock()
	e.sel.SetHtml(markup)
	e.doc.tagAll(e.sel.Find("*"))
	tagged, _ := e.sel.Html()
	e.doc.record(Mutation{Type: MutSetHTML, Target: e.doc.refFor(e.sel), HTML: tagged})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// OuterHTML renders the element itself.
func (e *Element) OuterHTML() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	h, _ := goquery.OuterHtml(e.sel)
	return h
}

// Value returns the element's value attribute.
func (e *Element) Value() string {
	return e.AttrOr("value", "")
}

// SetValue sets the value attribute and journals it for the view.
func (e *Element) SetValue(v string) {
	e.doc.mu.Lock()
	e.sel.SetAttr("value", v)
	e.doc.record(Mutation{Type: MutSetValue, Target: e.doc.refFor(e.sel), Value: v})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// SyncValue records a value reported by the view without echoing a
// mutation back. Keeps script reads of .value fresh during typing.
func (e *Element) SyncValue(v string) {
	e.doc.mu.Lock()
	e.sel.SetAttr("value", v)
	e.doc.mu.Unlock()
}

// StyleProp returns one property from the inline style attribute.
func (e *Element) StyleProp(name string) string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return styleGet(e.sel.AttrOr("style", ""), name)
}

// SetStyleProp sets one inline style property, preserving the others.
func (e *Element) SetStyleProp(name, value string) {
	e.doc.mu.Lock()
	style := styleSet(e.sel.AttrOr("style", ""), name, value)
	e.sel.SetAttr("style", style)
	e.doc.record(Mutation{Type: MutSetStyle, Target: e.doc.refFor(e.sel), Name: name, Value: value})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// AppendHTML parses markup and appends it to this element, returning
// the appended root elements. Inserted nodes are ref-tagged and
// journaled individually.
func (e *Element) AppendHTML(markup string) []*Element {
	e.doc.mu.Lock()
	before := e.sel.Children().Length()
	e.sel.AppendHtml(markup)
	added := e.sel.Children().Slice(before, e.sel.Children().Length())
	e.doc.tagAll(added.AddSelection(added.Find("*")))

	parentRef := e.doc.refFor(e.sel)
	roots := make([]*Element, 0, added.Length())
	added.Each(func(_ int, s *goquery.Selection) {
		outer, _ := goquery.OuterHtml(s)
		e.doc.record(Mutation{Type: MutAppend, Target: parentRef, HTML: outer})
		roots = append(roots, &Element{doc: e.doc, sel: s})
	})
	e.doc.mu.Unlock()
	e.doc.wake()
	return roots
}

// AppendChild moves an existing element under this one.
func (e *Element) AppendChild(child *Element) {
	e.doc.mu.Lock()
	childRef := e.doc.refFor(child.sel)
	e.sel.AppendSelection(child.sel)
	outer, _ := goquery.OuterHtml(child.sel)
	e.doc.record(Mutation{Type: MutRemove, Target: childRef})
	e.doc.record(Mutation{Type: MutAppend, Target: e.doc.refFor(e.sel), HTML: outer})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// Remove detaches the element from the document.
func (e *Element) Remove() {
	e.doc.mu.Lock()
	ref := e.doc.refFor(e.sel)
	e.sel.Remove()
	e.doc.record(Mutation{Type: MutRemove, Target: ref})
	e.doc.mu.Unlock()
	e.doc.wake()
}

// Parent returns the parent element, or nil at the document root.
func (e *Element) Parent() *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return e.doc.wrap(e.sel.Parent())
}

// QuerySelector returns the first descendant match or nil.
func (e *Element) QuerySelector(selector string) *Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return first(e.doc, e.sel, selector)
}

// QuerySelectorAll returns every descendant match.
func (e *Element) QuerySelectorAll(selector string) []*Element {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return all(e.doc, e.sel, selector)
}

// GetElementsByClassName returns descendants carrying the class.
func (e *Element) GetElementsByClassName(name string) []*Element {
	return e.QuerySelectorAll("." + name)
}

// GetElementsByTagName returns descendants with the tag.
func (e *Element) GetElementsByTagName(tag string) []*Element {
	return e.QuerySelectorAll(tag)
}

// GetElementsByName returns descendants with the name attribute.
func (e *Element) GetElementsByName(name string) []*Element {
	return e.QuerySelectorAll("[name=" + strconv.Quote(name) + "]")
}
