package generator

import (
	"errors"
	"regexp"
	"strings"

	"dataset_metadata_publisher/metadata"
)

var numberedItemRe = regexp.MustCompile(`^\d+[.)]\s+`)

// ErrEmptyValue is returned when the model answered with nothing usable.
var ErrEmptyValue = errors.New("model returned empty value")

// PostProcess cleans a raw completion for the target field.
func PostProcess(field metadata.FieldID, raw string) (string, error) {
	v := strings.TrimSpace(stripFences(raw))
	v = stripLabel(v, field)
	v = trimQuotes(v)
	if v == "" {
		return "", ErrEmptyValue
	}

	switch field {
	case metadata.FieldTitulo, metadata.FieldTema:
		v = strings.TrimRight(firstLine(v), ".")
		v = trimQuotes(v)
	case metadata.FieldPalabrasClave:
		v = normalizeKeywords(v)
	case metadata.FieldExtensionTemporal, metadata.FieldExtensionEspacial:
		v = firstLine(v)
	}
	if v == "" {
		return "", ErrEmptyValue
	}
	return v, nil
}

// PostProcessTitle applies the title rules outside the field flow.
func PostProcessTitle(raw string) (string, error) {
	return PostProcess(metadata.FieldTitulo, raw)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// stripLabel drops a leading "Título:"-style label the model sometimes echoes.
func stripLabel(s string, field metadata.FieldID) string {
	f, ok := metadata.LookupField(field)
	if !ok {
		return s
	}
	for _, label := range []string{f.Name, string(field)} {
		prefix := strings.ToLower(label) + ":"
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"«", "»"}, {"“", "”"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// normalizeKeywords turns lists, bullets or newline separated words into a
// de-duplicated comma separated line.
func normalizeKeywords(s string) string {
	s = strings.ReplaceAll(s, "\n", ",")
	s = strings.ReplaceAll(s, ";", ",")
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), "-*•"))
		part = numberedItemRe.ReplaceAllString(part, "")
		part = trimQuotes(part)
		key := strings.ToLower(part)
		if part == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, part)
	}
	return strings.Join(out, ", ")
}
