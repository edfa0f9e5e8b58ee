// Package extractor discovers the properties (columns, keys, predicates) of
// uploaded data files and proposes an initial field assignment for them.
package extractor

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"dataset_metadata_publisher/metadata"
)

// Result is the payload returned by the extract-properties endpoint.
type Result struct {
	Properties      []string            `json:"properties"`
	Details         []metadata.Property `json:"details"`
	Grouped         metadata.Grouped    `json:"grouped"`
	AutoAssignments metadata.Assignment `json:"auto_assignments,omitempty"`
}

// Extractor selects a strategy per file and merges the results.
type Extractor struct {
	strategies map[string]Strategy
	logger     *log.Logger
}

// New returns an Extractor with the CSV, JSON, RDF/XML and Turtle strategies.
func New(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	csvs, js, xml, ttl := CSVStrategy{}, JSONStrategy{MaxDepth: 2}, RDFXMLStrategy{}, TurtleStrategy{}
	return &Extractor{
		strategies: map[string]Strategy{
			"csv": csvs, "tsv": csvs,
			"json": js, "geojson": js,
			"rdf": xml, "xml": xml, "owl": xml, "rdf-xml": xml,
			"ttl": ttl, "turtle": ttl, "n3": ttl, "rdf-turtle": ttl,
		},
		logger: logger,
	}
}

// StrategyFor picks the strategy for a file by declared format, then by
// extension, then by sniffing the content.
func (e *Extractor) StrategyFor(f metadata.FileDescriptor) Strategy {
	if s, ok := e.strategies[strings.ToLower(strings.TrimSpace(f.Format))]; ok {
		return s
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
	if s, ok := e.strategies[ext]; ok {
		return s
	}
	head := strings.TrimSpace(f.Content)
	switch {
	case strings.HasPrefix(head, "{"), strings.HasPrefix(head, "["):
		return e.strategies["json"]
	case strings.HasPrefix(head, "<"):
		return e.strategies["rdf"]
	case strings.Contains(head, "@prefix"):
		return e.strategies["ttl"]
	}
	return e.strategies["csv"]
}

// Extract runs every file through its strategy. A file that fails to parse is
// logged and skipped; the first occurrence of a property name wins.
func (e *Extractor) Extract(files []metadata.FileDescriptor) (Result, error) {
	if len(files) == 0 {
		return Result{}, fmt.Errorf("no files to extract properties from")
	}
	c := newCollector()
	for _, f := range files {
		props, err := e.StrategyFor(f).Extract(f.Content)
		if err != nil {
			e.logger.Printf("[extractor] %s: %v", f.Name, err)
			continue
		}
		for _, p := range props {
			c.add(p.Name, p.Type)
		}
	}
	details := c.list()
	names := make([]string, len(details))
	for i, p := range details {
		names[i] = p.Name
	}
	res := Result{
		Properties: names,
		Details:    details,
		Grouped:    metadata.Group(details),
	}
	if auto := AutoAssign(details); len(auto) > 0 {
		res.AutoAssignments = auto
	}
	return res, nil
}
