package metadata

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldID identifies one of the fixed metadata target slots.
type FieldID string

const (
	FieldTitulo            FieldID = "titulo"
	FieldDescripcion       FieldID = "descripcion"
	FieldTema              FieldID = "tema"
	FieldPalabrasClave     FieldID = "palabras_clave"
	FieldExtensionTemporal FieldID = "extension_temporal"
	FieldExtensionEspacial FieldID = "extension_espacial"
)

// FileContentPlaceholder is substituted with a summary of the uploaded files.
const FileContentPlaceholder = "{file_content}"

// Field describes a metadata slot as shown to the user.
type Field struct {
	ID            FieldID `yaml:"id" json:"id"`
	Name          string  `yaml:"nombre" json:"nombre"`
	Description   string  `yaml:"descripcion" json:"descripcion"`
	DefaultPrompt string  `yaml:"prompt" json:"-"`
}

//go:embed fields.yaml
var fieldsYAML []byte

var catalogue = mustLoadFields(fieldsYAML)

func mustLoadFields(data []byte) []Field {
	fields, err := parseFields(data)
	if err != nil {
		panic(err)
	}
	return fields
}

func parseFields(data []byte) ([]Field, error) {
	var fields []Field
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse field catalogue: %w", err)
	}
	seen := make(map[FieldID]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.ID == "" {
			return nil, fmt.Errorf("field %d has no id", i)
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("duplicate field id %q", f.ID)
		}
		seen[f.ID] = true
		f.DefaultPrompt = strings.TrimSpace(f.DefaultPrompt)
	}
	return fields, nil
}

// Fields returns the field catalogue in field order.
func Fields() []Field {
	out := make([]Field, len(catalogue))
	copy(out, catalogue)
	return out
}

// FieldIDs returns the closed set of identifiers in field order.
func FieldIDs() []FieldID {
	ids := make([]FieldID, len(catalogue))
	for i, f := range catalogue {
		ids[i] = f.ID
	}
	return ids
}

// LookupField returns the catalogue entry for id.
func LookupField(id FieldID) (Field, bool) {
	for _, f := range catalogue {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Valid reports whether id belongs to the closed field set.
func (id FieldID) Valid() bool {
	_, ok := LookupField(id)
	return ok
}

// DefaultPrompt returns the built-in instruction template for id.
func DefaultPrompt(id FieldID) string {
	f, _ := LookupField(id)
	return f.DefaultPrompt
}

// StorageKey is the session key a generated value for id is persisted under,
// e.g. aiGeneratedPalabrasClave.
func (id FieldID) StorageKey() string {
	var b strings.Builder
	b.WriteString(GeneratedKeyPrefix)
	for _, part := range strings.Split(string(id), "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
