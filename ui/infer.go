package ui

import (
	"fmt"

	"golang.org/x/net/html"

	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/workflow"
)

type typeLabel struct {
	label string
	icon  string
}

var typeLabels = map[metadata.PropertyType]typeLabel{
	metadata.TypeText:        {"Texto", "📝"},
	metadata.TypeNumeric:     {"Numérico", "🔢"},
	metadata.TypeDate:        {"Fecha", "📅"},
	metadata.TypeCoordinates: {"Coordenadas", "🗺️"},
	metadata.TypeBoolean:     {"Booleano", "✓"},
}

// PropertyGroups renders one section per non-empty group with a chip per
// property. Clicking a chip opens the field picker.
func PropertyGroups(p Page, g metadata.Grouped, disabled bool) *html.Node {
	root := el("div", attrs("id", "properties-container"))
	empty := true
	for _, t := range metadata.PropertyTypes {
		names := g[t]
		if len(names) == 0 {
			continue
		}
		empty = false
		lbl := typeLabels[t]
		chips := el("div", attrs("class", "chips"))
		for _, name := range names {
			chips.AppendChild(p.form(PathInferPick,
				hidden(FieldProperty, name),
				el("button", flag(attrs("type", "submit", "class", "chip", "data-property", name), "disabled", disabled), text(name)),
			))
		}
		root.AppendChild(el("section", attrs("class", "property-group", "data-type", string(t)),
			textEl("h3", fmt.Sprintf("%s %s (%d)", lbl.icon, lbl.label, len(names))),
			chips,
		))
	}
	if empty {
		root.AppendChild(textEl("p", "No hay propiedades disponibles", "class", "placeholder"))
	}
	return root
}

// FieldPicker lists every field the property can be assigned to.
func FieldPicker(p Page, property string) *html.Node {
	list := el("div", attrs("class", "field-options"))
	for _, f := range metadata.Fields() {
		list.AppendChild(p.form(PathInferAssign,
			hidden(FieldField, string(f.ID)),
			hidden(FieldProperty, property),
			el("button", attrs("type", "submit", "class", "field-option", "data-field", string(f.ID)),
				textEl("strong", f.Name),
				textEl("small", f.Description),
			),
		))
	}
	return el("div", attrs("id", "field-picker", "class", "modal", "role", "dialog"),
		el("div", attrs("class", "modal-content"),
			textEl("h3", fmt.Sprintf("Asignar «%s» a:", property)),
			list,
			p.form(PathInferClosePicker, submit("Cancelar")),
		),
	)
}

// Assignments renders each field with its assigned properties.
func Assignments(p Page, sel metadata.Assignment, prompts map[metadata.FieldID]string, disabled bool) *html.Node {
	root := el("div", attrs("id", "metadata-assignments"))
	for _, f := range metadata.Fields() {
		heading := el("h4", nil, text(f.Name))
		if _, ok := prompts[f.ID]; ok {
			heading.AppendChild(textEl("span", "prompt personalizado", "class", "badge"))
		}

		assigned := el("div", attrs("class", "assigned"))
		props := sel[f.ID]
		if len(props) == 0 {
			assigned.AppendChild(textEl("p", "Sin propiedades asignadas", "class", "placeholder"))
		}
		for _, prop := range props {
			assigned.AppendChild(el("div", attrs("class", "chip assigned-chip", "data-property", prop),
				textEl("span", prop),
				p.form(PathInferRemove,
					hidden(FieldField, string(f.ID)),
					hidden(FieldProperty, prop),
					el("button", flag(attrs("type", "submit", "class", "remove", "aria-label", "Quitar "+prop), "disabled", disabled), text("×")),
				),
			))
		}

		root.AppendChild(el("section", attrs("class", "field-assignment", "data-field", string(f.ID)),
			heading,
			textEl("p", f.Description, "class", "description"),
			assigned,
			p.form(PathInferPrompt,
				hidden(FieldField, string(f.ID)),
				el("button", flag(attrs("type", "submit", "class", "edit-prompt"), "disabled", disabled), text("Editar prompt")),
			),
		))
	}
	return root
}

// PromptEditor is the editor for one field's instruction template.
func PromptEditor(p Page, field metadata.FieldID, current string) *html.Node {
	name := string(field)
	if f, ok := metadata.LookupField(field); ok {
		name = f.Name
	}
	return el("div", attrs("id", "prompt-editor", "class", "modal", "role", "dialog"),
		el("div", attrs("class", "modal-content"),
			textEl("h3", "Prompt para "+name),
			p.form(PathInferPromptSave,
				hidden(FieldField, string(field)),
				textEl("textarea", current, "name", FieldPrompt, "rows", "12"),
				textEl("p", "Usa "+metadata.FileContentPlaceholder+" donde quieras insertar el contenido de los ficheros. Déjalo vacío para volver al prompt por defecto.", "class", "hint"),
				submit("Guardar"),
			),
			p.form(PathInferPromptCancel, submit("Cancelar")),
		),
	)
}

// ModelSelector lets the user pick the AI model; nil without choices.
func ModelSelector(p Page, models []string, selected string, disabled bool) *html.Node {
	if len(models) == 0 {
		return nil
	}
	sel := el("select", flag(attrs("name", FieldModel, "id", "ai-model"), "disabled", disabled))
	for _, m := range models {
		sel.AppendChild(el("option", flag(attrs("value", m), "selected", m == selected), text(m)))
	}
	return p.form(PathInferModel,
		textEl("label", "Modelo de IA:", "for", "ai-model"),
		sel,
		el("button", flag(attrs("type", "submit"), "disabled", disabled), text("Usar modelo")),
	)
}

// StatusPanel shows the batch progress or its outcome.
func StatusPanel(progress string, res *workflow.Result) *html.Node {
	panel := el("div", attrs("id", "resultado-panel"))
	if progress == "" && res == nil {
		panel.Attr = flag(panel.Attr, "hidden", true)
		return panel
	}
	if progress != "" {
		panel.AppendChild(textEl("p", progress, "class", "progress"))
	}
	if res != nil {
		panel.Attr = append(panel.Attr, html.Attribute{Key: "data-outcome", Val: string(res.Outcome)})
		panel.AppendChild(textEl("pre", res.Message, "id", "resultado-json"))
		if len(res.Values) > 0 {
			dl := el("dl", attrs("class", "generated"))
			for _, id := range metadata.FieldIDs() {
				v, ok := res.Values[id]
				if !ok {
					continue
				}
				f, _ := metadata.LookupField(id)
				dl.AppendChild(textEl("dt", f.Name))
				dl.AppendChild(textEl("dd", v, "data-field", string(id)))
			}
			panel.AppendChild(dl)
		}
		if res.Redirect != "" {
			panel.AppendChild(el("p", attrs("class", "redirect"),
				text("Redirigiendo a la revisión de metadatos... "),
				textEl("a", "Continuar", "href", res.Redirect),
			))
		}
	}
	return panel
}

// InferPage renders the whole inference page for st.
func InferPage(p Page, st workflow.State) *html.Node {
	locked := st.Disabled || st.Busy
	alert := el("div", attrs("id", "alerta", "class", "alert", "role", "alert"), text(st.Alert))
	if st.Alert == "" {
		alert.Attr = flag(alert.Attr, "hidden", true)
	}

	content := el("main", attrs("class", "inferir"),
		textEl("h1", "Inferir metadatos"),
		alert,
		el("div", attrs("class", "columns"),
			el("div", attrs("class", "column"), textEl("h2", "Propiedades detectadas"), PropertyGroups(p, st.Grouped, locked)),
			el("div", attrs("class", "column"), textEl("h2", "Campos de metadatos"), Assignments(p, st.Selected, st.Prompts, locked)),
		),
	)
	if st.Picking != "" && !locked {
		content.AppendChild(FieldPicker(p, st.Picking))
	}
	if st.Editing != "" {
		content.AppendChild(PromptEditor(p, st.Editing, st.EditText))
	}
	appendAll(content, []*html.Node{ModelSelector(p, st.Models, st.Model, locked)})
	content.AppendChild(el("div", attrs("class", "actions"),
		p.form(PathInferGenerate, el("button", flag(attrs("type", "submit", "id", "inferir-btn", "class", "btn primary"), "disabled", locked), text("Generar metadatos con IA"))),
		p.form(PathInferTitle, el("button", flag(attrs("type", "submit", "id", "titulo-btn", "class", "btn"), "disabled", locked), text("Generar solo el título"))),
	))
	content.AppendChild(StatusPanel(st.Progress, st.Outcome))

	var refresh *Refresh
	if st.Outcome != nil && st.Outcome.Redirect != "" {
		refresh = &Refresh{URL: st.Outcome.Redirect, After: st.Outcome.RedirectAfter}
	}
	return Document("Inferir metadatos", refresh, content)
}
