package extractor

import (
	"strings"

	"dataset_metadata_publisher/metadata"
)

// nameHints maps lower-case name fragments to the field they usually feed.
var nameHints = []struct {
	field     metadata.FieldID
	fragments []string
}{
	{metadata.FieldTitulo, []string{"titulo", "título", "title", "nombre", "name"}},
	{metadata.FieldDescripcion, []string{"descrip", "resumen", "summary", "notes", "observ"}},
	{metadata.FieldTema, []string{"tema", "categor", "theme", "sector", "tipo"}},
	{metadata.FieldPalabrasClave, []string{"tag", "etiqueta", "keyword", "palabra"}},
	{metadata.FieldExtensionTemporal, []string{"fecha", "date", "año", "anio", "year", "periodo"}},
	{metadata.FieldExtensionEspacial, []string{"lat", "lon", "coord", "geo", "municipio", "provincia", "region", "pais", "país", "country", "ciudad", "city"}},
}

// AutoAssign proposes an initial assignment from property names and types.
// Date properties go to the temporal extent and coordinates to the spatial
// extent regardless of name. Only non-empty fields are returned.
func AutoAssign(props []metadata.Property) metadata.Assignment {
	a := metadata.NewAssignment()
	for _, p := range props {
		switch p.Type {
		case metadata.TypeDate:
			_, _ = a.Add(metadata.FieldExtensionTemporal, p.Name)
		case metadata.TypeCoordinates:
			_, _ = a.Add(metadata.FieldExtensionEspacial, p.Name)
		}
		lower := strings.ToLower(p.Name)
		for _, h := range nameHints {
			for _, frag := range h.fragments {
				if strings.Contains(lower, frag) {
					_, _ = a.Add(h.field, p.Name)
					break
				}
			}
		}
	}
	return a.NonEmpty()
}
