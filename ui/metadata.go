package ui

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/workflow"
)

const datasetFormID = "dataset-form"

var licenses = []struct{ id, label string }{
	{"", "Sin especificar"},
	{"cc-by", "Creative Commons Atribución"},
	{"cc-by-sa", "Creative Commons Atribución-CompartirIgual"},
	{"cc-zero", "Creative Commons CCZero"},
	{"odc-odbl", "Open Data Commons Open Database License"},
	{"other-open", "Otra (abierta)"},
}

// MarkdownPreview renders md as HTML nodes inside a preview container. Raw
// HTML in md is not passed through.
func MarkdownPreview(md string) (*html.Node, error) {
	box := el("div", attrs("class", "markdown-preview"))
	if strings.TrimSpace(md) == "" {
		box.AppendChild(textEl("p", "Sin descripción", "class", "placeholder"))
		return box, nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return nil, err
	}
	nodes, err := html.ParseFragment(&buf, &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div})
	if err != nil {
		return nil, err
	}
	appendAll(box, nodes)
	return box, nil
}

// MetadataView is what the review/edit page shows.
type MetadataView struct {
	// Values are the dataset form values keyed by form field name.
	Values   map[string]string
	PagePath string
	Modal    workflow.ModalState
	Notice   string
}

// MetadataForm renders the dataset form. Publish modal controls live outside
// the form and join it through the form attribute.
func MetadataForm(p Page, v MetadataView) *html.Node {
	f := el("form", attrs("id", datasetFormID, "class", "formulario", "method", "post", "action", PathPublish+ActionConfirm+"/"),
		p.csrf(),
		hidden(FieldPagePath, v.PagePath),
	)
	if id := v.Values[publisher.FormDatasetID]; id != "" {
		f.AppendChild(hidden(publisher.FormDatasetID, id))
	}

	for _, field := range metadata.Fields() {
		name := string(field.ID)
		inputID := "id_" + name
		var input *html.Node
		if field.ID == metadata.FieldDescripcion {
			input = textEl("textarea", v.Values[name], "id", inputID, "name", name, "rows", "6")
		} else {
			input = el("input", attrs("type", "text", "id", inputID, "name", name, "value", v.Values[name]))
		}
		f.AppendChild(el("div", attrs("class", "form-row"),
			textEl("label", field.Name, "for", inputID),
			input,
			textEl("small", field.Description, "class", "help"),
		))
	}

	f.AppendChild(row("Nombre (URL)", publisher.FormName, v.Values[publisher.FormName]))
	lic := el("select", attrs("id", "id_"+publisher.FormLicencia, "name", publisher.FormLicencia))
	for _, l := range licenses {
		lic.AppendChild(el("option", flag(attrs("value", l.id), "selected", v.Values[publisher.FormLicencia] == l.id), text(l.label)))
	}
	f.AppendChild(el("div", attrs("class", "form-row"), textEl("label", "Licencia", "for", "id_"+publisher.FormLicencia), lic))
	f.AppendChild(row("Autor", publisher.FormAutor, v.Values[publisher.FormAutor]))
	f.AppendChild(row("Correo del autor", publisher.FormAutorEmail, v.Values[publisher.FormAutorEmail]))
	f.AppendChild(el("div", attrs("class", "form-row"),
		el("label", nil,
			el("input", flag(attrs("type", "checkbox", "name", publisher.FormPrivado, "value", "on"), "checked", v.Values[publisher.FormPrivado] == "on")),
			text(" Privado"),
		),
	))
	f.AppendChild(el("input", attrs("type", "hidden", "id", "metadata-content-field", "name", publisher.FormMetadataContent, "value", v.Values[publisher.FormMetadataContent])))
	f.AppendChild(el("div", attrs("class", "actions"),
		submit("Publicar en CKAN", "class", "btn crear", "formaction", PathPublish+ActionOpen+"/"),
	))
	return f
}

func row(label, name, value string) *html.Node {
	id := "id_" + name
	return el("div", attrs("class", "form-row"),
		textEl("label", label, "for", id),
		el("input", attrs("type", "text", "id", id, "name", name, "value", value)),
	)
}

// modalButton submits the dataset form to a modal action.
func modalButton(label, action string, kv ...string) *html.Node {
	a := attrs("type", "submit", "form", datasetFormID, "formaction", PathPublish+action+"/")
	return el("button", append(a, attrs(kv...)...), text(label))
}

// PublishModal renders the catalog publish dialog; nil while closed.
func PublishModal(ms workflow.ModalState) *html.Node {
	if ms.Status == workflow.ModalClosed || ms.Status == "" {
		return nil
	}

	sel := el("select", attrs("id", "ckan-org-select", "name", publisher.FormOrganizationID, "form", datasetFormID))
	switch {
	case ms.Status == workflow.ModalLoading:
		sel.AppendChild(textEl("option", "Cargando...", "value", ""))
	case ms.OrgError != "":
		sel.AppendChild(textEl("option", ms.OrgError, "value", ""))
	default:
		sel.AppendChild(textEl("option", "Selecciona una organización...", "value", ""))
		for _, o := range ms.Organizations {
			sel.AppendChild(el("option", flag(attrs("value", o.ID), "selected", o.ID == ms.Selected), text(o.Label())))
		}
	}

	step1 := el("div", attrs("id", "ckan-step-1"),
		textEl("label", "Organización:", "for", "ckan-org-select"),
		sel,
	)
	if !ms.Creating {
		step1.AppendChild(modalButton("+ Nueva Organización", ActionShowCreate, "id", "btn-show-create-org", "class", "link"))
	}

	content := el("div", attrs("class", "modal-content"),
		textEl("h2", "Publicar en CKAN"),
		step1,
	)
	if ms.Creating {
		create := el("div", attrs("id", "ckan-step-create-org"),
			textEl("h3", "Nueva Organización"),
			textEl("label", "Nombre:", "for", "new-org-name"),
			el("input", attrs("type", "text", "id", "new-org-name", "name", FieldNewOrgName, "form", datasetFormID, "placeholder", "Ej. Mi Organización")),
			textEl("label", "Descripción:", "for", "new-org-desc"),
			el("textarea", attrs("id", "new-org-desc", "name", FieldNewOrgDesc, "form", datasetFormID, "rows", "2")),
		)
		if ms.CreateError != "" {
			create.AppendChild(textEl("p", ms.CreateError, "class", "error", "role", "alert"))
		}
		create.AppendChild(el("div", attrs("class", "buttons"),
			modalButton("Cancelar", ActionCancelCreate, "id", "btn-cancel-org"),
			modalButton("Crear", ActionCreateOrg, "id", "btn-create-org"),
		))
		content.AppendChild(create)
	}

	busy := ms.Status == workflow.ModalPublishing || ms.Status == workflow.ModalDone
	confirm := modalButton("Confirmar y Publicar", ActionConfirm, "id", "btn-confirm-ckan", "class", "btn primary")
	confirm.Attr = flag(confirm.Attr, "disabled", busy)
	content.AppendChild(el("div", attrs("class", "modal-actions"),
		modalButton("Cancelar", ActionClose, "id", "btn-close-modal"),
		confirm,
	))
	content.AppendChild(el("div", attrs("id", "ckan-status", "class", "status-"+string(ms.Status)), text(ms.Message)))

	return el("div", attrs("id", "ckan-modal", "class", "modal-overlay", "role", "dialog"), content)
}

// MetadataPage renders the review page (or the edit page of a published
// dataset) with the publish modal when open.
func MetadataPage(p Page, v MetadataView) (*html.Node, error) {
	preview, err := MarkdownPreview(v.Values[publisher.FormDescripcion])
	if err != nil {
		return nil, err
	}
	title := "Revisar metadatos"
	if strings.Contains(v.PagePath, "/editar/") {
		title = "Editar conjunto de datos"
	}
	content := el("main", attrs("class", "metadatos"), textEl("h1", title))
	if v.Notice != "" {
		content.AppendChild(textEl("div", v.Notice, "class", "alert", "role", "alert"))
	}
	content.AppendChild(MetadataForm(p, v))
	content.AppendChild(el("section", attrs("class", "preview"), textEl("h2", "Vista previa de la descripción"), preview))
	appendAll(content, []*html.Node{PublishModal(v.Modal)})

	var refresh *Refresh
	if v.Modal.Status == workflow.ModalDone && v.Modal.Redirect != "" {
		refresh = &Refresh{URL: v.Modal.Redirect, After: v.Modal.RedirectAfter}
	}
	return Document(title, refresh, content), nil
}
