package extractor

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataset_metadata_publisher/metadata"
)

func quietExtractor() *Extractor {
	return New(log.New(io.Discard, "", 0))
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		in   string
		want metadata.PropertyType
	}{
		{"", metadata.TypeText},
		{"true", metadata.TypeBoolean},
		{"Sí", metadata.TypeBoolean},
		{"1", metadata.TypeBoolean},
		{"42", metadata.TypeNumeric},
		{"-3.5e2", metadata.TypeNumeric},
		{"40.41, -3.70", metadata.TypeCoordinates},
		{"POINT(1 2)", metadata.TypeCoordinates},
		{"2024-03-01", metadata.TypeDate},
		{"01/03/2024", metadata.TypeDate},
		{"2024-03-01T10:00:00", metadata.TypeDate},
		{"1/2/2020", metadata.TypeDate},
		{"12/31/2020", metadata.TypeDate},
		{"2024/3/1", metadata.TypeDate},
		{"5-6-2023", metadata.TypeDate},
		{"2024-3-1 08:05:00", metadata.TypeDate},
		{"1/2/20x", metadata.TypeText},
		{"Madrid", metadata.TypeText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectType(tt.in), "value %q", tt.in)
	}
}

func TestCSVStrategy(t *testing.T) {
	content := "nombre,fecha,lat_lon,activo,poblacion\nMadrid,2024-01-31,\"40.4, -3.7\",true,3200000\n"
	props, err := CSVStrategy{}.Extract(content)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Property{
		{Name: "nombre", Type: metadata.TypeText},
		{Name: "fecha", Type: metadata.TypeDate},
		{Name: "lat_lon", Type: metadata.TypeCoordinates},
		{Name: "activo", Type: metadata.TypeBoolean},
		{Name: "poblacion", Type: metadata.TypeNumeric},
	}, props)
}

func TestCSVStrategy_SemicolonDelimiter(t *testing.T) {
	props, err := CSVStrategy{}.Extract("importe;concepto\n2.5;cuota\n")
	require.NoError(t, err)
	assert.Equal(t, []metadata.Property{
		{Name: "importe", Type: metadata.TypeNumeric},
		{Name: "concepto", Type: metadata.TypeText},
	}, props)
}

func TestCSVStrategy_TooShort(t *testing.T) {
	props, err := CSVStrategy{}.Extract("solo,cabecera")
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestJSONStrategy(t *testing.T) {
	content := `[{"id": 1, "nombre_completo": "Ana", "activo": false,
		"ubicacion": {"coords": [40.1, -3.2], "ciudad": "Madrid"}, "tags": ["a"]}]`
	props, err := JSONStrategy{}.Extract(content)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Property{
		{Name: "id", Type: metadata.TypeNumeric},
		{Name: "nombre completo", Type: metadata.TypeText},
		{Name: "activo", Type: metadata.TypeBoolean},
		{Name: "ubicacion", Type: metadata.TypeText},
		{Name: "coords", Type: metadata.TypeCoordinates},
		{Name: "ciudad", Type: metadata.TypeText},
		{Name: "tags", Type: metadata.TypeText},
	}, props)
}

func TestJSONStrategy_DepthLimit(t *testing.T) {
	props, err := JSONStrategy{MaxDepth: 2}.Extract(`{"a":{"b":{"c":{"d":1}}}}`)
	require.NoError(t, err)
	var names []string
	for _, p := range props {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestJSONStrategy_Invalid(t *testing.T) {
	_, err := JSONStrategy{}.Extract(`{"a":`)
	require.Error(t, err)
}

func TestRDFXMLStrategy(t *testing.T) {
	content := `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <rdf:Description rdf:about="http://example.org/aire">
    <dc:title>Calidad del aire</dc:title>
    <dc:date>2023-05-01</dc:date>
    <geo:lat_long>40.4,-3.7</geo:lat_long>
  </rdf:Description>
</rdf:RDF>`
	props, err := RDFXMLStrategy{}.Extract(content)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Property{
		{Name: "title", Type: metadata.TypeText},
		{Name: "date", Type: metadata.TypeDate},
		{Name: "lat long", Type: metadata.TypeCoordinates},
	}, props)
}

func TestTurtleStrategy(t *testing.T) {
	content := `@prefix dc: <http://purl.org/dc/elements/1.1/> .
ex:d1 dc:title "Aforos" ;
  ex:count "12"^^xsd:integer ;
  dcat:landingPage <http://example.org/aforos> .`
	props, err := TurtleStrategy{}.Extract(content)
	require.NoError(t, err)
	assert.Equal(t, []metadata.Property{
		{Name: "title", Type: metadata.TypeText},
		{Name: "count", Type: metadata.TypeNumeric},
		{Name: "landingPage", Type: metadata.TypeText},
	}, props)
}

func TestXSDType(t *testing.T) {
	assert.Equal(t, metadata.TypeDate, xsdType("datetime"))
	assert.Equal(t, metadata.TypeNumeric, xsdType("decimal"))
	assert.Equal(t, metadata.TypeBoolean, xsdType("boolean"))
	assert.Equal(t, metadata.TypeText, xsdType("string"))
}

func TestStrategyFor(t *testing.T) {
	e := quietExtractor()
	assert.IsType(t, CSVStrategy{}, e.StrategyFor(metadata.FileDescriptor{Name: "a.csv"}))
	assert.IsType(t, JSONStrategy{}, e.StrategyFor(metadata.FileDescriptor{Name: "a.bin", Format: "JSON"}))
	assert.IsType(t, TurtleStrategy{}, e.StrategyFor(metadata.FileDescriptor{Name: "a.ttl"}))
	assert.IsType(t, RDFXMLStrategy{}, e.StrategyFor(metadata.FileDescriptor{Name: "data", Content: "  <rdf:RDF/>"}))
	assert.IsType(t, JSONStrategy{}, e.StrategyFor(metadata.FileDescriptor{Name: "data", Content: `{"a":1}`}))
}

func TestExtract_MergesAndSkipsBrokenFiles(t *testing.T) {
	e := quietExtractor()
	res, err := e.Extract([]metadata.FileDescriptor{
		{Name: "roto.json", Content: `{"a":`},
		{Name: "municipios.csv", Content: "nombre,fecha,lat_lon,activo,poblacion\nMadrid,2024-01-31,\"40.4, -3.7\",true,3200000\n"},
		{Name: "extra.json", Content: `{"nombre": "x", "superficie": 12.5}`},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"nombre", "fecha", "lat_lon", "activo", "poblacion", "superficie"}, res.Properties)
	assert.Equal(t, []string{"nombre"}, res.Grouped[metadata.TypeText])
	assert.Equal(t, []string{"poblacion", "superficie"}, res.Grouped[metadata.TypeNumeric])
	assert.Equal(t, []string{"nombre"}, res.AutoAssignments[metadata.FieldTitulo])
	assert.Equal(t, []string{"fecha"}, res.AutoAssignments[metadata.FieldExtensionTemporal])
	assert.Equal(t, []string{"lat_lon"}, res.AutoAssignments[metadata.FieldExtensionEspacial])
}

func TestExtract_NoFiles(t *testing.T) {
	_, err := quietExtractor().Extract(nil)
	require.Error(t, err)
}
