package ui

import (
	"time"

	"golang.org/x/net/html"
)

// UploadPage is the "create dataset" step where the files are chosen.
func UploadPage(p Page, notice string) *html.Node {
	f := el("form", attrs("method", "post", "action", PathUpload, "enctype", "multipart/form-data", "class", "formulario"),
		p.csrf(),
		el("div", attrs("class", "form-row"),
			textEl("label", "Ficheros (CSV, JSON, RDF-XML o Turtle)", "for", "id_files"),
			el("input", attrs("type", "file", "id", "id_files", "name", FieldFiles, "multiple", "", "required", "")),
		),
		row("Nombre del conjunto", "name", ""),
		row("Formato", FieldFormato, ""),
		row("URL de metadatos", FieldMetadataURL, ""),
		el("div", attrs("class", "actions"), submit("Continuar", "class", "btn primary")),
	)
	content := el("main", attrs("class", "crear-conjunto"), textEl("h1", "Crear conjunto de datos"))
	if notice != "" {
		content.AppendChild(textEl("div", notice, "class", "alert", "role", "alert"))
	}
	content.AppendChild(f)
	return Document("Crear conjunto", nil, content)
}

// DatasetView is a published dataset as listed locally.
type DatasetView struct {
	ID           string
	Title        string
	Name         string
	Organization string
	Created      time.Time
	CatalogURL   string
}

// HomePage lists the datasets published from this application.
func HomePage(p Page, datasets []DatasetView) *html.Node {
	content := el("main", attrs("class", "inicio"),
		textEl("h1", "Mis conjuntos de datos"),
		el("p", nil, textEl("a", "Crear conjunto", "href", PathUpload, "class", "btn primary")),
	)
	if len(datasets) == 0 {
		content.AppendChild(textEl("p", "Todavía no has publicado ningún conjunto.", "class", "placeholder"))
		return Document("Inicio", nil, content)
	}
	body := el("tbody", nil)
	for _, d := range datasets {
		body.AppendChild(el("tr", attrs("data-id", d.ID),
			el("td", nil, textEl("a", d.Title, "href", PathDataset+d.ID+"/")),
			textEl("td", d.Organization),
			textEl("td", d.Created.Format("02/01/2006 15:04")),
			el("td", nil,
				textEl("a", "Editar", "href", PathDataset+d.ID+"/editar/"),
				p.form(PathDataset+d.ID+"/delete/", submit("Eliminar", "class", "danger")),
			),
		))
	}
	content.AppendChild(el("table", attrs("class", "datasets"),
		el("thead", nil, el("tr", nil,
			textEl("th", "Título"), textEl("th", "Organización"), textEl("th", "Creado"), textEl("th", ""),
		)),
		body,
	))
	return Document("Inicio", nil, content)
}

// DatasetPage shows one published dataset.
func DatasetPage(p Page, d DatasetView) *html.Node {
	info := el("dl", attrs("class", "dataset"),
		textEl("dt", "Identificador"), textEl("dd", d.ID),
		textEl("dt", "Nombre"), textEl("dd", d.Name),
		textEl("dt", "Organización"), textEl("dd", d.Organization),
		textEl("dt", "Creado"), textEl("dd", d.Created.Format("02/01/2006 15:04")),
	)
	links := el("p", attrs("class", "actions"),
		textEl("a", "Editar", "href", PathDataset+d.ID+"/editar/", "class", "btn"),
	)
	if d.CatalogURL != "" {
		links.AppendChild(textEl("a", "Ver en CKAN", "href", d.CatalogURL, "class", "btn", "rel", "noopener"))
	}
	content := el("main", attrs("class", "dataset-detail"),
		textEl("h1", d.Title),
		info,
		links,
		p.form(PathDataset+d.ID+"/delete/", submit("Eliminar del listado", "class", "danger")),
	)
	return Document(d.Title, nil, content)
}
