package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"dataset_metadata_publisher/metadata"
)

var (
	numericRe     = regexp.MustCompile(`^-?\d+\.?\d*([eE][-+]?\d+)?$`)
	latLongRe     = regexp.MustCompile(`^-?\d+\.?\d*\s*,\s*-?\d+\.?\d*$`)
	datePrefixRes = []*regexp.Regexp{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`),
		regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`),
		regexp.MustCompile(`^\d{4}/\d{2}/\d{2}`),
		regexp.MustCompile(`^\d{2}-\d{2}-\d{4}`),
	}
	booleanWords = map[string]bool{
		"true": true, "false": true, "yes": true, "no": true,
		"0": true, "1": true, "si": true, "sí": true,
	}
	wktKeywords = []string{"POINT", "POLYGON", "LINESTRING"}
	// dateLayouts accept whole values, including unpadded days and months.
	dateLayouts = []string{
		"2006-1-2",
		"2/1/2006",
		"1/2/2006",
		"2006/1/2",
		"2-1-2006",
		"2006-1-2T15:04:05",
		"2006-1-2 15:04:05",
	}
)

// DetectType infers the category of a raw textual sample value.
func DetectType(value string) metadata.PropertyType {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return metadata.TypeText
	case booleanWords[strings.ToLower(v)]:
		return metadata.TypeBoolean
	case numericRe.MatchString(v):
		return metadata.TypeNumeric
	case isCoordinates(v):
		return metadata.TypeCoordinates
	case isDate(v):
		return metadata.TypeDate
	}
	return metadata.TypeText
}

// detectJSONType infers the category of a parsed JSON value. Native JSON
// types win over string heuristics.
func detectJSONType(v gjson.Result) metadata.PropertyType {
	switch v.Type {
	case gjson.Null:
		return metadata.TypeText
	case gjson.True, gjson.False:
		return metadata.TypeBoolean
	case gjson.Number:
		return metadata.TypeNumeric
	case gjson.String:
		return DetectType(v.Str)
	}
	if v.IsArray() {
		items := v.Array()
		if len(items) == 2 && items[0].Type == gjson.Number && items[1].Type == gjson.Number {
			return metadata.TypeCoordinates
		}
		if len(items) > 0 && items[0].Type == gjson.Number {
			return metadata.TypeNumeric
		}
	}
	return metadata.TypeText
}

func isCoordinates(v string) bool {
	if latLongRe.MatchString(v) {
		return true
	}
	lower := strings.ToLower(v)
	if strings.Contains(lower, "point") && (strings.Contains(lower, "coordinates") || strings.Contains(v, "[")) {
		return true
	}
	upper := strings.ToUpper(v)
	for _, kw := range wktKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

func isDate(v string) bool {
	for _, re := range datePrefixRes {
		if re.MatchString(v) {
			return true
		}
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// formatName turns identifiers like fecha_alta or cod-postal into display names.
func formatName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}
