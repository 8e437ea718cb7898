package linker

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed assets/adapter.js
var adapterScript string

// DataElementID is the id of the JSON payload element read by the adapter
// script.
const DataElementID = "ecmalinks-data"

// Payload configures the browser adapter. Popups maps function names to
// rendered popup list items; when a name is missing the adapter fetches
// Endpoint+name instead.
type Payload struct {
	AnchorClass  string            `json:"anchorClass"`
	DismissDelay int64             `json:"dismissDelay"` // milliseconds
	Endpoint     string            `json:"endpoint,omitempty"`
	Popups       map[string]string `json:"popups,omitempty"`
}

// StaticPayload renders popup markup for every indexed name so the linked
// document works without a server.
func StaticPayload(ix *semantics.Index, anchorClass string, dismissDelay time.Duration) (*Payload, error) {
	p := &Payload{
		AnchorClass:  anchorClass,
		DismissDelay: dismissDelay.Milliseconds(),
		Popups:       make(map[string]string, ix.Len()),
	}
	for _, name := range ix.Names() {
		groups, err := ix.Groups(name)
		if err != nil {
			return nil, err
		}
		markup, err := semantics.RenderGroups(groups)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		p.Popups[name] = markup.String()
	}
	return p, nil
}

// ServedPayload points the adapter at a popup endpoint instead of embedding
// markup.
func ServedPayload(endpoint, anchorClass string, dismissDelay time.Duration) *Payload {
	return &Payload{
		AnchorClass:  anchorClass,
		DismissDelay: dismissDelay.Milliseconds(),
		Endpoint:     endpoint,
	}
}

// Inject appends the payload and the adapter script to the document body.
func Inject(doc *html.Node, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	body := htmltree.Body(doc)
	dataEl := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr: []html.Attribute{
			{Key: "type", Val: "application/json"},
			{Key: "id", Val: DataElementID},
		},
	}
	// encoding/json escapes '<', so the payload cannot close the element.
	dataEl.AppendChild(&html.Node{Type: html.TextNode, Data: string(data)})
	body.AppendChild(dataEl)

	script := &html.Node{Type: html.ElementNode, DataAtom: atom.Script, Data: "script"}
	script.AppendChild(&html.Node{Type: html.TextNode, Data: adapterScript})
	body.AppendChild(script)
	return nil
}
