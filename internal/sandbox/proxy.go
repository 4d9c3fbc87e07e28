package sandbox

import (
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/nimbusos/shell/internal/dom"
)

// installDOM wires the scoped DOM functions. Every query is rooted at
// the app's window subtree, so one app can never reach another app's
// nodes. Head and body appends are the only sanctioned escapes and
// are tagged with the owning app so they get swept at close.
func (h *Handle) installDOM() {
	h.vm.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return h.toElement(h.root.QuerySelector("[id=" + strconv.Quote(id) + "]"))
	})
	h.vm.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return h.toElement(h.root.QuerySelector(call.Argument(0).String()))
	})
	h.vm.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return h.elementArray(h.root.QuerySelectorAll(call.Argument(0).String()))
	})
	h.vm.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		return h.elementArray(h.root.GetElementsByClassName(call.Argument(0).String()))
	})
	h.vm.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return h.elementArray(h.root.GetElementsByTagName(call.Argument(0).String()))
	})
	h.vm.Set("getElementsByName", func(call goja.FunctionCall) goja.Value {
		return h.elementArray(h.root.GetElementsByName(call.Argument(0).String()))
	})

	h.vm.Set("appendToHead", func(call goja.FunctionCall) goja.Value {
		return h.appendScoped(h.doc.Head(), call.Argument(0))
	})
	h.vm.Set("appendToBody", func(call goja.FunctionCall) goja.Value {
		return h.appendScoped(h.doc.Body(), call.Argument(0))
	})

	h.vm.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return h.createElement(call.Argument(0).String())
	})
}

// appendScoped appends either an element handle or raw markup to
// target, tagging the result so RemoveAppNodes finds it later.
func (h *Handle) appendScoped(target *dom.Element, arg goja.Value) goja.Value {
	if target == nil {
		return goja.Null()
	}

	if obj, ok := arg.(*goja.Object); ok {
		if refVal := obj.Get("_ref"); refVal != nil && !goja.IsUndefined(refVal) {
			el := h.doc.ByRef(refVal.String())
			if el == nil {
				return goja.Null()
			}
			target.AppendChild(el)
			el.SetAttr("data-shell-app", h.appID)
			return arg
		}
	}

	roots := target.AppendHTML(arg.String())
	for _, root := range roots {
		root.SetAttr("data-shell-app", h.appID)
	}
	if len(roots) == 0 {
		return goja.Null()
	}
	return h.elementProxy(roots[0])
}

// createElement parses a fresh element into the app's hidden staging
// area. The node lives there until appendChild moves it into place.
func (h *Handle) createElement(tag string) goja.Value {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, r := range tag {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			tag = "div"
			break
		}
	}
	if tag == "" {
		tag = "div"
	}

	staging := h.staging()
	if staging == nil {
		return goja.Null()
	}
	roots := staging.AppendHTML("<" + tag + "></" + tag + ">")
	if len(roots) == 0 {
		return goja.Null()
	}
	return h.elementProxy(roots[0])
}

// staging returns the app's staging container, creating it on first use.
func (h *Handle) staging() *dom.Element {
	if s := h.root.QuerySelector("[data-shell-staging]"); s != nil {
		return s
	}
	roots := h.root.AppendHTML(`<div data-shell-staging="1" style="display:none"></div>`)
	if len(roots) == 0 {
		return nil
	}
	return roots[0]
}

func (h *Handle) toElement(el *dom.Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	return h.elementProxy(el)
}

func (h *Handle) elementArray(els []*dom.Element) goja.Value {
	items := make([]interface{}, len(els))
	for i, el := range els {
		items[i] = h.elementProxy(el)
	}
	return h.vm.NewArray(items...)
}

// proxyByRef resolves a node ref back into a fresh proxy, for event
// targets coming in from the view.
func (h *Handle) proxyByRef(ref string) goja.Value {
	el := h.doc.ByRef(ref)
	if el == nil {
		return goja.Null()
	}
	return h.elementProxy(el)
}

// elementProxy wraps one document element for app scripts. Proxies are
// built fresh per lookup; identity comparisons go through _ref.
func (h *Handle) elementProxy(el *dom.Element) goja.Value {
	obj := h.vm.NewObject()
	obj.Set("_ref", el.Ref())

	getter := func(fn func() string) goja.Value {
		return h.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return h.vm.ToValue(fn())
		})
	}
	setter := func(fn func(string)) goja.Value {
		return h.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			fn(call.Argument(0).String())
			return goja.Undefined()
		})
	}

	obj.DefineAccessorProperty("id", getter(el.ID), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("tagName", getter(el.TagName), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("innerHTML", getter(el.InnerHTML), setter(el.SetInnerHTML), goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("textContent", getter(el.Text), setter(el.SetText), goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("value", getter(el.Value), setter(el.SetValue), goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("className",
		getter(func() string { return el.AttrOr("class", "") }),
		setter(func(v string) { el.SetAttr("class", v) }),
		goja.FLAG_FALSE, goja.FLAG_TRUE)

	obj.Set("style", h.vm.NewDynamicObject(&styleDyn{h: h, el: el}))
	obj.Set("dataset", h.vm.NewDynamicObject(&datasetDyn{h: h, el: el}))

	classList := h.vm.NewObject()
	classList.Set("add", func(name string) { el.AddClass(name) })
	classList.Set("remove", func(name string) { el.RemoveClass(name) })
	classList.Set("toggle", func(name string) bool { return el.ToggleClass(name) })
	classList.Set("contains", func(name string) bool { return el.HasClass(name) })
	obj.Set("classList", classList)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := el.Attr(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return h.vm.ToValue(v)
	})
	obj.Set("setAttribute", func(name, value string) {
		el.SetAttr(name, value)
	})
	obj.Set("removeAttribute", func(name string) {
		el.RemoveAttr(name)
	})
	obj.Set("hasAttribute", func(name string) bool {
		_, ok := el.Attr(name)
		return ok
	})

	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return goja.Null()
		}
		refVal := child.Get("_ref")
		if refVal == nil || goja.IsUndefined(refVal) {
			return goja.Null()
		}
		childEl := h.doc.ByRef(refVal.String())
		if childEl == nil {
			return goja.Null()
		}
		el.AppendChild(childEl)
		return call.Argument(0)
	})
	obj.Set("remove", func(goja.FunctionCall) goja.Value {
		el.Remove()
		return goja.Undefined()
	})

	obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return h.toElement(el.QuerySelector(call.Argument(0).String()))
	})
	obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return h.elementArray(el.QuerySelectorAll(call.Argument(0).String()))
	})

	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fnVal := call.Argument(1)
		cb, ok := goja.AssertFunction(fnVal)
		if !ok {
			return goja.Undefined()
		}

		ref := el.Ref()
		remove := h.dispatcher.Add(ref, event, func(ev dom.Event) {
			h.invokeListener(cb, ev)
		})
		key := h.tracker.AddListener(ref, event, remove)

		h.listenerMu.Lock()
		h.listeners[ref] = append(h.listeners[ref], storedListener{event: event, fn: fnVal, key: key})
		h.listenerMu.Unlock()
		return goja.Undefined()
	})
	obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fnVal := call.Argument(1)
		ref := el.Ref()

		h.listenerMu.Lock()
		stored := h.listeners[ref]
		for i, s := range stored {
			if s.event == event && s.fn.StrictEquals(fnVal) {
				h.listeners[ref] = append(stored[:i], stored[i+1:]...)
				h.listenerMu.Unlock()
				h.tracker.RemoveListener(s.key)
				return goja.Undefined()
			}
		}
		h.listenerMu.Unlock()
		return goja.Undefined()
	})

	return obj
}

// styleDyn maps camelCase property access onto the element's inline
// style attribute.
type styleDyn struct {
	h  *Handle
	el *dom.Element
}

func (s *styleDyn) Get(key string) goja.Value {
	return s.h.vm.ToValue(s.el.StyleProp(camelToKebab(key)))
}

func (s *styleDyn) Set(key string, val goja.Value) bool {
	s.el.SetStyleProp(camelToKebab(key), val.String())
	return true
}

func (s *styleDyn) Has(key string) bool {
	return s.el.StyleProp(camelToKebab(key)) != ""
}

func (s *styleDyn) Delete(key string) bool {
	s.el.SetStyleProp(camelToKebab(key), "")
	return true
}

func (s *styleDyn) Keys() []string {
	style := s.el.AttrOr("style", "")
	var keys []string
	for _, part := range strings.Split(style, ";") {
		name, _, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" {
			keys = append(keys, kebabToCamel(name))
		}
	}
	return keys
}

// datasetDyn maps camelCase property access onto data-* attributes.
type datasetDyn struct {
	h  *Handle
	el *dom.Element
}

func (d *datasetDyn) Get(key string) goja.Value {
	v, ok := d.el.Attr("data-" + camelToKebab(key))
	if !ok {
		return goja.Undefined()
	}
	return d.h.vm.ToValue(v)
}

func (d *datasetDyn) Set(key string, val goja.Value) bool {
	d.el.SetAttr("data-"+camelToKebab(key), val.String())
	return true
}

func (d *datasetDyn) Has(key string) bool {
	_, ok := d.el.Attr("data-" + camelToKebab(key))
	return ok
}

func (d *datasetDyn) Delete(key string) bool {
	d.el.RemoveAttr("data-" + camelToKebab(key))
	return true
}

func (d *datasetDyn) Keys() []string { return nil }

func camelToKebab(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func kebabToCamel(s string) string {
	var b strings.Builder
	upper := false
	for _, r := range s {
		if r == '-' {
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			b.WriteRune(r - ('a' - 'A'))
			upper = false
			continue
		}
		upper = false
		b.WriteRune(r)
	}
	return b.String()
}
