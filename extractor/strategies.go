package extractor

import (
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"dataset_metadata_publisher/metadata"
)

// Strategy extracts the properties of one file format.
type Strategy interface {
	Extract(content string) ([]metadata.Property, error)
}

// rdfSampleLimit bounds how much of an RDF document is scanned.
const rdfSampleLimit = 10000

// collector keeps first-seen properties in discovery order.
type collector struct {
	order []string
	props map[string]metadata.Property
}

func newCollector() *collector {
	return &collector{props: map[string]metadata.Property{}}
}

func (c *collector) add(name string, t metadata.PropertyType) {
	if name == "" {
		return
	}
	if _, ok := c.props[name]; ok {
		return
	}
	c.order = append(c.order, name)
	c.props[name] = metadata.Property{Name: name, Type: t}
}

func (c *collector) has(name string) bool {
	_, ok := c.props[name]
	return ok
}

func (c *collector) list() []metadata.Property {
	out := make([]metadata.Property, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.props[n])
	}
	return out
}

// --- CSV ---

// CSVStrategy reads the header and types each column from the first row.
type CSVStrategy struct{}

var csvDelimiters = []rune{',', ';', '\t', '|'}

func (CSVStrategy) Extract(content string) ([]metadata.Property, error) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return nil, nil
	}
	head := lines
	if len(head) > 5 {
		head = head[:5]
	}

	r := csv.NewReader(strings.NewReader(content))
	r.Comma = sniffDelimiter(head)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return nil, err
	}
	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		first = nil
	} else if err != nil {
		return nil, err
	}

	c := newCollector()
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		value := ""
		if i < len(first) {
			value = first[i]
		}
		c.add(h, DetectType(value))
	}
	return c.list(), nil
}

// sniffDelimiter prefers a delimiter that appears the same non-zero number of
// times on every sampled line, falling back to the most frequent separator on
// the header line.
func sniffDelimiter(sample []string) rune {
	var lines []string
	for _, l := range sample {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ','
	}
	best, bestCount := rune(0), 0
	for _, d := range csvDelimiters {
		n := strings.Count(lines[0], string(d))
		if n == 0 {
			continue
		}
		consistent := true
		for _, l := range lines[1:] {
			if strings.Count(l, string(d)) != n {
				consistent = false
				break
			}
		}
		if consistent && n > bestCount {
			best, bestCount = d, n
		}
	}
	if best != 0 {
		return best
	}
	return manualDelimiter(lines[0])
}

func manualDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|', ':'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// --- JSON ---

// JSONStrategy walks the first record up to a fixed depth, in document order.
type JSONStrategy struct {
	MaxDepth int
}

func (s JSONStrategy) Extract(content string) ([]metadata.Property, error) {
	if !gjson.Valid(content) {
		return nil, errors.New("invalid JSON document")
	}
	root := gjson.Parse(content)
	if root.IsArray() {
		items := root.Array()
		if len(items) == 0 || !items[0].IsObject() {
			return nil, nil
		}
		root = items[0]
	}
	if !root.IsObject() {
		return nil, nil
	}
	maxDepth := s.MaxDepth
	if maxDepth == 0 {
		maxDepth = 2
	}
	c := newCollector()
	walkJSON(root, c, 0, maxDepth)
	return c.list(), nil
}

func walkJSON(obj gjson.Result, c *collector, depth, maxDepth int) {
	if depth > maxDepth {
		return
	}
	obj.ForEach(func(key, value gjson.Result) bool {
		c.add(formatName(key.String()), detectJSONType(value))
		if depth < maxDepth {
			switch {
			case value.IsObject():
				walkJSON(value, c, depth+1, maxDepth)
			case value.IsArray():
				if first := value.Get("0"); first.IsObject() {
					walkJSON(first, c, depth+1, maxDepth)
				}
			}
		}
		return true
	})
}

// --- RDF/XML ---

// RDFXMLStrategy collects prefixed element names and their text values.
type RDFXMLStrategy struct{}

var (
	rdfXMLPredicateRe = regexp.MustCompile(`<([a-zA-Z0-9_-]+):([a-zA-Z0-9_-]+)[^>]*>([^<]*)<`)
	rdfStructural     = map[string]bool{"RDF": true, "Description": true, "Bag": true, "Seq": true}
)

func (RDFXMLStrategy) Extract(content string) ([]metadata.Property, error) {
	c := newCollector()
	for _, m := range rdfXMLPredicateRe.FindAllStringSubmatch(sample(content), -1) {
		ns, pred, value := m[1], m[2], strings.TrimSpace(m[3])
		if strings.EqualFold(ns, "rdf") && rdfStructural[pred] {
			continue
		}
		name := formatName(pred)
		if value != "" {
			c.add(name, DetectType(value))
		} else {
			c.add(name, metadata.TypeText)
		}
	}
	return c.list(), nil
}

// --- Turtle ---

// TurtleStrategy scans plain literals, typed literals and URI objects.
type TurtleStrategy struct{}

var (
	turtleLiteralRe = regexp.MustCompile(`([a-zA-Z0-9_-]+):([a-zA-Z0-9_-]+)\s+["']([^"']*)["']`)
	turtleTypedRe   = regexp.MustCompile(`([a-zA-Z0-9_-]+):([a-zA-Z0-9_-]+)\s+"[^"]*"\^\^xsd:(\w+)`)
	turtleURIRe     = regexp.MustCompile(`([a-zA-Z0-9_-]+):([a-zA-Z0-9_-]+)\s+<[^>]+>`)
)

func (TurtleStrategy) Extract(content string) ([]metadata.Property, error) {
	text := sample(content)
	c := newCollector()
	for _, m := range turtleLiteralRe.FindAllStringSubmatch(text, -1) {
		c.add(formatName(m[2]), DetectType(m[3]))
	}
	for _, m := range turtleTypedRe.FindAllStringSubmatch(text, -1) {
		name := formatName(m[2])
		if c.has(name) {
			continue
		}
		c.add(name, xsdType(strings.ToLower(m[3])))
	}
	for _, m := range turtleURIRe.FindAllStringSubmatch(text, -1) {
		c.add(formatName(m[2]), metadata.TypeText)
	}
	return c.list(), nil
}

func xsdType(t string) metadata.PropertyType {
	switch t {
	case "date", "datetime", "time":
		return metadata.TypeDate
	case "integer", "decimal", "double", "float":
		return metadata.TypeNumeric
	case "boolean":
		return metadata.TypeBoolean
	}
	return metadata.TypeText
}

func sample(content string) string {
	if len(content) > rdfSampleLimit {
		return content[:rdfSampleLimit]
	}
	return content
}
