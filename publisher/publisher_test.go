package publisher

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"dataset_metadata_publisher/metadata"
)

type fakeCKAN struct {
	mu        sync.Mutex
	calls     []string
	bodies    map[string]string
	resources []string
}

func newFakeCKAN(t *testing.T) (*fakeCKAN, *httptest.Server) {
	t.Helper()
	f := &fakeCKAN{bodies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := strings.TrimPrefix(r.URL.Path, actionPath)
		f.mu.Lock()
		f.calls = append(f.calls, action)
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"success": false, "error": {"__type": "Authorization Error", "message": "Access denied"}}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch action {
		case "organization_list_for_user":
			_, _ = io.WriteString(w, `{"success": true, "result": [
				{"id": "o1", "name": "ayto", "title": "Ayuntamiento"},
				{"id": "o2", "name": "uni", "title": ""}]}`)
		case "organization_create":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.bodies[action] = string(body)
			f.mu.Unlock()
			name := gjson.GetBytes(body, "name").String()
			_, _ = io.WriteString(w, `{"success": true, "result": {"id": "new-org", "name": "`+name+`", "title": "Foo Bar"}}`)
		case "package_create", "package_update":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.bodies[action] = string(body)
			f.mu.Unlock()
			if !gjson.GetBytes(body, "title").Exists() {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, `{"success": false, "error": {"__type": "Validation Error", "title": ["Missing value"]}}`)
				return
			}
			_, _ = io.WriteString(w, `{"success": true, "result": {"id": "ds-1", "name": "calidad-del-aire"}}`)
		case "resource_create":
			file, header, err := r.FormFile("upload")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"success": false, "error": {"message": "upload missing"}}`)
				return
			}
			content, _ := io.ReadAll(file)
			f.mu.Lock()
			f.resources = append(f.resources, r.FormValue("package_id")+"|"+header.Filename+"|"+r.FormValue("format")+"|"+string(content))
			n := len(f.resources)
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"success": true, "result": {"id": "res-`+string(rune('0'+n))+`"}}`)
		case "package_show":
			_, _ = io.WriteString(w, `{"success": true, "result": {
				"id": "ds-1", "name": "calidad-del-aire", "title": "Calidad del aire",
				"notes": "Mediciones horarias", "private": true, "license_id": "cc-by",
				"tags": [{"name": "aire"}, {"name": "NO2"}],
				"extras": [{"key": "tema", "value": "Medio ambiente"}, {"key": "otro", "value": "x"}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, "not found")
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestPublisher(t *testing.T, baseURL, token string) *Publisher {
	t.Helper()
	p, err := New(CKANConfig{BaseURL: baseURL + "/", APIToken: token}, nil, nil, true, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return p
}

func TestListOrganizations(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	orgs, err := p.ListOrganizations(context.Background())
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, metadata.Organization{ID: "o1", Name: "ayto", Title: "Ayuntamiento"}, orgs[0])
	assert.Equal(t, "uni", orgs[1].Label())
}

func TestCreateOrganization_SlugifiesName(t *testing.T) {
	f, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	org, err := p.CreateOrganization(context.Background(), "Foo Bar", "desc")
	require.NoError(t, err)
	assert.Equal(t, "new-org", org.ID)
	assert.Equal(t, "foo-bar", org.Name)

	body := f.bodies["organization_create"]
	assert.Equal(t, "Foo Bar", gjson.Get(body, "title").String())
	assert.Equal(t, "desc", gjson.Get(body, "description").String())

	_, err = p.CreateOrganization(context.Background(), "  ", "")
	require.Error(t, err)
}

func TestAuthorizationFailure(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "wrong")

	_, err := p.ListOrganizations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
	assert.Contains(t, err.Error(), "403")
}

func TestMissingToken(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "")

	_, err := p.ListOrganizations(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}

func TestPublishDataset_CreateWithResources(t *testing.T) {
	f, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	res, err := p.PublishDataset(context.Background(), PublishParams{
		OrganizationID: "o1",
		Package:        PackageInput{Title: "Calidad del aire", Name: "calidad-del-aire", Tags: []string{"aire"}},
		Files: []metadata.FileDescriptor{
			{Name: "no2.csv", Format: "csv", Content: "a,b\n1,2\n"},
			{Name: "o3.json", Format: "json", Content: `{"x":1}`},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "ds-1", res.DatasetID)
	assert.Equal(t, []string{"res-1", "res-2"}, res.ResourceIDs)

	assert.Equal(t, []string{"package_create", "resource_create", "resource_create"}, f.calls)
	assert.Equal(t, "o1", gjson.Get(f.bodies["package_create"], "owner_org").String())
	assert.Equal(t, "aire", gjson.Get(f.bodies["package_create"], "tags.0.name").String())
	assert.Equal(t, "ds-1|no2.csv|CSV|a,b\n1,2\n", f.resources[0])
}

func TestPublishDataset_Update(t *testing.T) {
	f, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	res, err := p.PublishDataset(context.Background(), PublishParams{
		DatasetID: "ds-1",
		Package:   PackageInput{Title: "Nuevo título"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ds-1", res.DatasetID)
	assert.Equal(t, []string{"package_update"}, f.calls)
	assert.Equal(t, "ds-1", gjson.Get(f.bodies["package_update"], "id").String())
	assert.False(t, gjson.Get(f.bodies["package_update"], "owner_org").Exists())
}

func TestPublishDataset_ValidationError(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	_, err := p.PublishDataset(context.Background(), PublishParams{OrganizationID: "o1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title: [\"Missing value\"]")

	_, err = p.PublishDataset(context.Background(), PublishParams{Package: PackageInput{Title: "x"}})
	require.Error(t, err)
}

func TestNonJSONResponse(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")
	_, err := p.action(context.Background(), "unknown_action", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestBuildPackagePayload(t *testing.T) {
	body, err := BuildPackagePayload(PackageInput{
		Name:     "aire",
		Title:    "Aire",
		OwnerOrg: "o1",
		Tags:     []string{"no2", "ozono"},
		Extras:   []Extra{{Key: "tema", Value: "medio ambiente"}},
		Base:     `{"url": "http://example.org", "extras": [{"key": "tema", "value": "viejo"}, {"key": "fuente", "value": "sensores"}]}`,
	})
	require.NoError(t, err)

	doc := gjson.ParseBytes(body)
	assert.Equal(t, "http://example.org", doc.Get("url").String())
	assert.Equal(t, "o1", doc.Get("owner_org").String())
	assert.Equal(t, "ozono", doc.Get("tags.1.name").String())
	assert.False(t, doc.Get("private").Bool())

	var extras []Extra
	require.NoError(t, json.Unmarshal([]byte(doc.Get("extras").Raw), &extras))
	assert.Equal(t, []Extra{{Key: "tema", Value: "medio ambiente"}, {Key: "fuente", Value: "sensores"}}, extras)

	_, err = BuildPackagePayload(PackageInput{Base: `[1,2]`})
	require.Error(t, err)
}

func TestPackageFromForm(t *testing.T) {
	form := map[string]string{
		FormTitulo:            "Calidad del Aire 2024",
		FormDescripcion:       " Mediciones horarias ",
		FormPalabrasClave:     "aire, NO2, aire",
		FormTema:              "Medio ambiente",
		FormExtensionEspacial: "Madrid",
		FormPrivado:           "on",
	}
	pkg := PackageFromForm(func(k string) string { return form[k] })
	assert.Equal(t, "calidad-del-aire-2024", pkg.Name)
	assert.Equal(t, "Mediciones horarias", pkg.Notes)
	assert.Equal(t, []string{"aire", "NO2"}, pkg.Tags)
	assert.True(t, pkg.Private)
	assert.Equal(t, []Extra{{Key: "tema", Value: "Medio ambiente"}, {Key: "extension_espacial", Value: "Madrid"}}, pkg.Extras)
}

func TestShowDatasetFillsForm(t *testing.T) {
	_, srv := newFakeCKAN(t)
	p := newTestPublisher(t, srv.URL, "secret")

	pkg, err := p.ShowDataset(context.Background(), "ds-1")
	require.NoError(t, err)
	form := FormFromPackage(pkg)
	assert.Equal(t, "ds-1", form[FormDatasetID])
	assert.Equal(t, "Calidad del aire", form[FormTitulo])
	assert.Equal(t, "Mediciones horarias", form[FormDescripcion])
	assert.Equal(t, "aire, NO2", form[FormPalabrasClave])
	assert.Equal(t, "Medio ambiente", form[FormTema])
	assert.Equal(t, "on", form[FormPrivado])
	assert.NotContains(t, form, "otro")

	_, err = p.ShowDataset(context.Background(), "")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "mi-organizacion", Slugify("Mi Organización"))
	assert.Equal(t, "a-b_c", Slugify("  A -- b_c! "))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ckan": {"base_url": "https://localhost:8443"}, "llm": {"provider": "mock"}}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.CKAN.UserID)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, int64(60), int64(cfg.CKAN.Timeout().Seconds()))

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
