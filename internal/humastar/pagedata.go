package humastar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// SSEExtension marks a GET operation as a stream the page opens on load.
const SSEExtension = "x-sse"

// PageData holds everything a page template needs from the OpenAPI spec.
// Templates use {{.Signals}} for data-signals init and
// {{index .Routes "zoom-in"}} for actions.
type PageData struct {
	// Signals is the JSON string for data-signals initialization.
	Signals string

	// Routes maps operation IDs to their paths with parameters filled in.
	Routes map[string]string

	// SSEInits holds the URLs of streams opened on load, sorted.
	SSEInits []string
}

// DataInit returns a Datastar data-init attribute value joining all SSE init URLs.
// e.g. "@get('/viewer/abc/stream')"
func (pd PageData) DataInit() string {
	var parts []string
	for _, url := range pd.SSEInits {
		parts = append(parts, fmt.Sprintf("@get('%s')", url))
	}
	return strings.Join(parts, "; ")
}

// BuildPageData builds template data for the operations tagged tag. Path
// parameters are filled from params; signals become the data-signals JSON.
// Page HTML never hardcodes a URL: the registered operations are the only
// source of where the page sends commands.
func BuildPageData(api huma.API, tag string, params map[string]string, signals map[string]any) PageData {
	pd := PageData{Routes: map[string]string{}}

	if signals == nil {
		signals = map[string]any{}
	}
	signalsJSON, _ := json.Marshal(signals)
	pd.Signals = string(signalsJSON)

	paths := api.OpenAPI().Paths
	for path, item := range paths {
		for _, op := range operationsOf(item) {
			if op == nil || !hasTag(op.Tags, tag) || op.OperationID == "" {
				continue
			}
			url := fillParams(path, params)
			pd.Routes[op.OperationID] = url
			if op.Method == "GET" && op.Extensions[SSEExtension] == true {
				pd.SSEInits = append(pd.SSEInits, url)
			}
		}
	}
	sort.Strings(pd.SSEInits)
	return pd
}

func fillParams(path string, params map[string]string) string {
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}
