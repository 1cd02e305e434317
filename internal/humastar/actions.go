package humastar

import (
	"fmt"
	"strings"
)

// Action is a command a client may send to a resource in its current state,
// advertised as an RFC 8288 Link header:
//
//	</viewer/abc/zoom-in>; rel="zoom-in"; method="POST"; title="Zoom in"
type Action struct {
	Rel    string
	Href   string
	Method string // empty for plain links
	Title  string
}

// Actor is implemented by response bodies whose available commands depend on
// their state. LinkTransformer emits one Link header per action.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as a Link header value.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		fmt.Fprintf(&b, `; method="%s"`, a.Method)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, `; title="%s"`, a.Title)
	}
	return b.String()
}

// ActionDef is an Action whose Pattern holds one %s for the resource id.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// Bind returns the action for the resource id.
func (d ActionDef) Bind(id string) Action {
	return Action{Rel: d.Rel, Href: fmt.Sprintf(d.Pattern, id), Method: d.Method, Title: d.Title}
}

// ActionsFor binds the defs that allow reports as available to id. A nil
// allow keeps every def.
func ActionsFor(id string, defs []ActionDef, allow func(rel string) bool) []Action {
	var out []Action
	for _, d := range defs {
		if allow == nil || allow(d.Rel) {
			out = append(out, d.Bind(id))
		}
	}
	return out
}
