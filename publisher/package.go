package publisher

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Extra is a free-form CKAN key/value pair.
type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PackageInput is the subset of a CKAN package this service writes.
type PackageInput struct {
	ID          string
	Name        string
	Title       string
	Notes       string
	OwnerOrg    string
	LicenseID   string
	Author      string
	AuthorEmail string
	Private     bool
	Tags        []string
	Extras      []Extra
	// Base is a JSON object (the stored metadata document) the explicit
	// fields are layered on top of.
	Base string
}

// Form field names posted by the metadata page.
const (
	FormTitulo            = "titulo"
	FormDescripcion       = "descripcion"
	FormTema              = "tema"
	FormPalabrasClave     = "palabras_clave"
	FormExtensionTemporal = "extension_temporal"
	FormExtensionEspacial = "extension_espacial"
	FormName              = "name"
	FormLicencia          = "licencia"
	FormAutor             = "autor"
	FormAutorEmail        = "autor_email"
	FormPrivado           = "privado"
	FormOrganizationID    = "organization_id"
	FormDatasetFiles      = "dataset_files_data"
	FormMetadataContent   = "metadata_content"
	FormDatasetID         = "dataset_id"
)

// PackageFromForm maps the metadata form onto a package.
func PackageFromForm(get func(string) string) PackageInput {
	title := strings.TrimSpace(get(FormTitulo))
	name := strings.TrimSpace(get(FormName))
	if name == "" {
		name = title
	}
	pkg := PackageInput{
		Name:        Slugify(name),
		Title:       title,
		Notes:       strings.TrimSpace(get(FormDescripcion)),
		LicenseID:   strings.TrimSpace(get(FormLicencia)),
		Author:      strings.TrimSpace(get(FormAutor)),
		AuthorEmail: strings.TrimSpace(get(FormAutorEmail)),
		Private:     get(FormPrivado) == "on" || get(FormPrivado) == "true",
		Tags:        SplitKeywords(get(FormPalabrasClave)),
		Base:        strings.TrimSpace(get(FormMetadataContent)),
	}
	for _, key := range []string{FormTema, FormExtensionTemporal, FormExtensionEspacial} {
		if v := strings.TrimSpace(get(key)); v != "" {
			pkg.Extras = append(pkg.Extras, Extra{Key: key, Value: v})
		}
	}
	return pkg
}

// BuildPackagePayload renders the package_create/package_update body.
func BuildPackagePayload(pkg PackageInput) ([]byte, error) {
	doc := []byte("{}")
	if pkg.Base != "" {
		if !gjson.Valid(pkg.Base) || !gjson.Parse(pkg.Base).IsObject() {
			return nil, errors.New("metadata content must be a JSON object")
		}
		doc = []byte(pkg.Base)
	}

	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, path, value)
	}
	setIf := func(path, value string) {
		if value != "" {
			set(path, value)
		}
	}

	setIf("id", pkg.ID)
	setIf("name", pkg.Name)
	setIf("title", pkg.Title)
	setIf("notes", pkg.Notes)
	setIf("owner_org", pkg.OwnerOrg)
	setIf("license_id", pkg.LicenseID)
	setIf("author", pkg.Author)
	setIf("author_email", pkg.AuthorEmail)
	set("private", pkg.Private)

	if len(pkg.Tags) > 0 {
		tags := make([]map[string]string, len(pkg.Tags))
		for i, t := range pkg.Tags {
			tags[i] = map[string]string{"name": t}
		}
		set("tags", tags)
	}

	if len(pkg.Extras) > 0 {
		extras := mergeExtras(gjson.GetBytes(doc, "extras"), pkg.Extras)
		set("extras", extras)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// mergeExtras keeps existing extras and overrides the ones with the same key.
func mergeExtras(existing gjson.Result, extras []Extra) []Extra {
	var out []Extra
	index := map[string]int{}
	existing.ForEach(func(_, e gjson.Result) bool {
		key := e.Get("key").String()
		if key == "" {
			return true
		}
		index[key] = len(out)
		out = append(out, Extra{Key: key, Value: e.Get("value").String()})
		return true
	})
	for _, e := range extras {
		if i, ok := index[e.Key]; ok {
			out[i] = e
			continue
		}
		index[e.Key] = len(out)
		out = append(out, e)
	}
	return out
}

var slugReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"à", "a", "è", "e", "ì", "i", "ò", "o", "ù", "u", "ç", "c",
)

// Slugify turns a display name into a CKAN URL name: lower case, spaces to
// dashes, only [a-z0-9_-] kept.
func Slugify(name string) string {
	s := slugReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-':
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// SplitKeywords splits a comma separated keyword line.
func SplitKeywords(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[strings.ToLower(part)] {
			continue
		}
		seen[strings.ToLower(part)] = true
		out = append(out, part)
	}
	return out
}

// FormFromPackage is the inverse of PackageFromForm: it fills the metadata
// form from a stored package so it can be edited.
func FormFromPackage(pkg gjson.Result) map[string]string {
	form := map[string]string{
		FormDatasetID:   pkg.Get("id").String(),
		FormName:        pkg.Get("name").String(),
		FormTitulo:      pkg.Get("title").String(),
		FormDescripcion: pkg.Get("notes").String(),
		FormLicencia:    pkg.Get("license_id").String(),
		FormAutor:       pkg.Get("author").String(),
		FormAutorEmail:  pkg.Get("author_email").String(),
	}
	if pkg.Get("private").Bool() {
		form[FormPrivado] = "on"
	}
	var tags []string
	pkg.Get("tags.#.name").ForEach(func(_, t gjson.Result) bool {
		tags = append(tags, t.String())
		return true
	})
	form[FormPalabrasClave] = strings.Join(tags, ", ")
	pkg.Get("extras").ForEach(func(_, e gjson.Result) bool {
		switch key := e.Get("key").String(); key {
		case FormTema, FormExtensionTemporal, FormExtensionEspacial:
			form[key] = e.Get("value").String()
		}
		return true
	})
	return form
}
