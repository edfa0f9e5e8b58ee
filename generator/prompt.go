package generator

import (
	"fmt"
	"strings"

	"dataset_metadata_publisher/metadata"
)

// Limits applied when summarising file contents for a prompt.
const (
	maxSampleLines     = 15
	maxSampleCharsFile = 3000
)

// Prompt is the set of messages sent to the LLM.
type Prompt struct {
	System string
	User   string
	Model  string
}

const systemCataloguer = "Eres un asistente de catalogación de datos abiertos. Responde en español, " +
	"sin explicaciones adicionales ni formato Markdown."

// BuildFieldPrompt renders the instruction for one metadata field. The custom
// prompt replaces the field's default template when set; {file_content} is
// substituted with a summary of the files focused on the assigned properties.
func BuildFieldPrompt(req FieldRequest) Prompt {
	tmpl := strings.TrimSpace(req.CustomPrompt)
	if tmpl == "" {
		tmpl = metadata.DefaultPrompt(req.Field)
	}
	content := FileContent(req.Files, req.Selected.Assigned(req.Field))
	user := strings.ReplaceAll(tmpl, metadata.FileContentPlaceholder, content)
	if !strings.Contains(tmpl, metadata.FileContentPlaceholder) {
		// Custom prompts without the placeholder still get the data appended.
		user = user + "\n\n" + content
	}
	return Prompt{
		System: systemCataloguer,
		User:   user,
		Model:  req.Model,
	}
}

// BuildTitlePrompt asks for a dataset title from every selected property.
func BuildTitlePrompt(req TitleRequest) Prompt {
	var props []string
	for _, id := range req.Selected.Fields() {
		for _, p := range req.Selected.Assigned(id) {
			props = append(props, fmt.Sprintf("%s (%s)", p, id))
		}
	}
	var sb strings.Builder
	sb.WriteString("Propón un título claro y conciso (máximo 12 palabras) para un conjunto de datos abiertos.\n")
	if len(props) > 0 {
		sb.WriteString("Propiedades seleccionadas: ")
		sb.WriteString(strings.Join(props, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("Responde únicamente con el título.\n\n")
	sb.WriteString(FileContent(req.Files, nil))
	return Prompt{
		System: systemCataloguer,
		User:   sb.String(),
		Model:  req.Model,
	}
}

// FileContent summarises each file: name, format, the properties of interest
// and the first lines of its content, bounded in size.
func FileContent(files []metadata.FileDescriptor, properties []string) string {
	var sb strings.Builder
	for i, f := range files {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("Archivo: %s", f.Name))
		if f.Format != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", f.Format))
		}
		sb.WriteString("\n")
		if len(properties) > 0 {
			sb.WriteString("Propiedades relevantes: ")
			sb.WriteString(strings.Join(properties, ", "))
			sb.WriteString("\n")
		}
		sb.WriteString("Contenido:\n")
		sb.WriteString(headLines(f.Content, maxSampleLines, maxSampleCharsFile))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func headLines(content string, maxLines, maxChars int) string {
	lines := strings.SplitN(content, "\n", maxLines+1)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	out := strings.Join(lines, "\n")
	if len(out) > maxChars {
		out = truncateRunes(out, maxChars)
	}
	return out
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
