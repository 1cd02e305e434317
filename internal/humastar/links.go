package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// entryPoint is the API resource that links to every collection. The server
// root reuses its links.
const entryPoint = "/health"

// linkMap stores the generated RFC 8288 link headers keyed by operation path.
var linkMap map[string][]string

// resource is one REST path of the OpenAPI document.
type resource struct {
	path string
	tags []string
}

// linkGraph sorts the REST paths into collections such as /api/v1/sessions
// and templated items such as /api/v1/sessions/{sid}.
type linkGraph struct {
	collections []resource
	items       []resource
}

func newLinkGraph(oapi *huma.OpenAPI) linkGraph {
	var g linkGraph
	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		// The page and its session commands are Datastar endpoints, not
		// REST resources.
		if hasTag(tags, "viewer") || hasTag(tags, "page") {
			continue
		}
		r := resource{path: p, tags: tags}
		if strings.Contains(p, "{") {
			g.items = append(g.items, r)
		} else {
			g.collections = append(g.collections, r)
		}
	}
	return g
}

// AutoLinks derives the REST API's hypermedia links from the OpenAPI
// document. Call it after every route is registered.
func AutoLinks(api huma.API) {
	oapi := api.OpenAPI()
	linkMap = map[string][]string{}
	g := newLinkGraph(oapi)

	// A session's state points back at the session list.
	for _, item := range g.items {
		parent := path.Dir(item.path)
		if _, ok := oapi.Paths[parent]; ok {
			addLink(item.path, parent, "collection")
			addLink(item.path, parent, "up")
		}
	}

	for _, coll := range g.collections {
		for _, item := range g.items {
			if path.Dir(item.path) == coll.path {
				addLink(coll.path, item.path, "item")
			}
		}
		if coll.path != entryPoint {
			addLink(coll.path, entryPoint, "up")
		}
	}

	// Collections in the same group, e.g. config and tilejson, name each
	// other by their last path segment.
	for i, a := range g.collections {
		for j, b := range g.collections {
			if i != j && sharesTag(a.tags, b.tags) {
				addLink(a.path, b.path, lastSegment(b.path))
			}
		}
	}

	for _, coll := range g.collections {
		if coll.path != entryPoint {
			addLink(entryPoint, coll.path, lastSegment(coll.path))
		}
	}
	addLink(entryPoint, "/openapi.json", "describedby")
	addLink(entryPoint, "/openapi.json", "service-desc")
	addLink(entryPoint, "/docs", "service-doc")
	addLink(entryPoint, "/viewer", "start")

	for _, r := range slices.Concat(g.collections, g.items) {
		if ref := getResponseSchemaRef(oapi.Paths[r.path]); ref != "" {
			addLink(r.path, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}

	// Record the same relations in the OpenAPI document.
	for p, pi := range oapi.Paths {
		headers, ok := linkMap[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// LinkTransformer returns a Huma Transformer that writes the generated links
// as Link headers. Item responses also get a resolved self link, pages of a
// list get first/prev/next/last, and session state adds its available
// commands.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range linkMap[op.Path] {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

// RootLinks returns the entry point's links for the non-Huma root handler.
func RootLinks() []string {
	return linkMap[entryPoint]
}

func addLink(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(linkMap[from], val) {
		linkMap[from] = append(linkMap[from], val)
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasTag(tags []string, tag string) bool {
	return slices.Contains(tags, tag)
}

func sharesTag(a, b []string) bool {
	return slices.ContainsFunc(a, func(t string) bool { return slices.Contains(b, t) })
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success response
// so the OpenAPI document itself records the relationships.
func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func getResponseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil || pi.Get.Responses == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	if v, ok := strings.CutPrefix(strings.TrimSpace(params), `rel="`); ok {
		rel, _, _ = strings.Cut(v, `"`)
	}
	return rel, href
}
