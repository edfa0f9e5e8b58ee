// Package ui renders the application pages as golang.org/x/net/html node
// trees. Every function is a pure mapping from view data to a fresh tree; a
// page is always rendered whole.
package ui

import (
	"io"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"dataset_metadata_publisher/workflow"
)

// Page paths and form actions.
const (
	PathHome              = "/inicio/"
	PathUpload            = "/crear-conjunto/"
	PathInfer             = "/inferir/"
	PathInferPick         = "/inferir/pick/"
	PathInferClosePicker  = "/inferir/pick/cerrar/"
	PathInferAssign       = "/inferir/assign/"
	PathInferRemove       = "/inferir/remove/"
	PathInferPrompt       = "/inferir/prompt/"
	PathInferPromptSave   = "/inferir/prompt/save/"
	PathInferPromptCancel = "/inferir/prompt/cancel/"
	PathInferModel        = "/inferir/model/"
	PathInferGenerate     = "/inferir/generate/"
	PathInferTitle        = "/inferir/title/"
	PathMetadata          = "/metadatos/"
	PathPublish           = "/metadatos/publicar/"
	PathDataset           = "/dataset/"
)

// Publish modal actions, appended to PathPublish.
const (
	ActionOpen         = "abrir"
	ActionClose        = "cerrar"
	ActionShowCreate   = "nueva"
	ActionCancelCreate = "cancelar-nueva"
	ActionCreateOrg    = "crear-org"
	ActionConfirm      = "confirmar"
)

// Form field names that are not part of the dataset form.
const (
	FieldProperty    = "property"
	FieldField       = "field"
	FieldPrompt      = "prompt"
	FieldModel       = "model"
	FieldPagePath    = "page_path"
	FieldNewOrgName  = "new_org_name"
	FieldNewOrgDesc  = "new_org_desc"
	FieldFiles       = "files"
	FieldFormato     = "formato"
	FieldMetadataURL = "metadata_url"
)

// Page carries the per-request values every form on a page needs.
type Page struct {
	CSRFToken string
	// Query is forwarded on form actions so the inference page keeps its
	// name, formato and metadata_url parameters.
	Query url.Values
}

func (p Page) action(path string) string {
	if len(p.Query) == 0 {
		return path
	}
	return path + "?" + p.Query.Encode()
}

// form builds a POST form carrying the CSRF token.
func (p Page) form(path string, children ...*html.Node) *html.Node {
	f := el("form", attrs("method", "post", "action", p.action(path)), p.csrf())
	appendAll(f, children)
	return f
}

func (p Page) csrf() *html.Node {
	return hidden(workflow.CSRFFormField, p.CSRFToken)
}

// Refresh is a delayed navigation emitted as a meta refresh.
type Refresh struct {
	URL   string
	After time.Duration
}

func (r *Refresh) content() string {
	secs := strconv.FormatFloat(r.After.Seconds(), 'f', -1, 64)
	return secs + ";url=" + r.URL
}

func el(tag string, a []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag)), Attr: a}
	appendAll(n, children)
	return n
}

func appendAll(n *html.Node, children []*html.Node) {
	for _, c := range children {
		if c != nil {
			n.AppendChild(c)
		}
	}
}

// attrs builds attributes from key/value pairs.
func attrs(kv ...string) []html.Attribute {
	out := make([]html.Attribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return out
}

// flag appends a boolean attribute when on.
func flag(a []html.Attribute, key string, on bool) []html.Attribute {
	if on {
		a = append(a, html.Attribute{Key: key})
	}
	return a
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func textEl(tag, s string, kv ...string) *html.Node {
	return el(tag, attrs(kv...), text(s))
}

func hidden(name, value string) *html.Node {
	return el("input", attrs("type", "hidden", "name", name, "value", value))
}

func submit(label string, kv ...string) *html.Node {
	return el("button", append(attrs("type", "submit"), attrs(kv...)...), text(label))
}

// Document wraps body nodes into a complete HTML document.
func Document(title string, refresh *Refresh, body ...*html.Node) *html.Node {
	head := el("head", nil,
		el("meta", attrs("charset", "utf-8")),
		el("meta", attrs("name", "viewport", "content", "width=device-width, initial-scale=1")),
		textEl("title", title),
		el("link", attrs("rel", "stylesheet", "href", "/static/app.css")),
	)
	if refresh != nil && refresh.URL != "" {
		head.AppendChild(el("meta", attrs("http-equiv", "refresh", "content", refresh.content())))
	}
	b := el("body", nil, nav())
	appendAll(b, body)

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(el("html", attrs("lang", "es"), head, b))
	return doc
}

func nav() *html.Node {
	return el("header", attrs("class", "topbar"),
		el("nav", nil,
			textEl("a", "Inicio", "href", PathHome),
			textEl("a", "Crear conjunto", "href", PathUpload),
		),
	)
}

// Render writes n as HTML.
func Render(w io.Writer, n *html.Node) error {
	return html.Render(w, n)
}
