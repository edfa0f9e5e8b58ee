package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"dataset_metadata_publisher/generator"
	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/store"
	"dataset_metadata_publisher/workflow"
)

const sampleCSV = "nombre,valor\nEstación Centro,42\n"

type fakeCatalog struct {
	mu        sync.Mutex
	orgs      []metadata.Organization
	published []publisher.PublishParams
	failOrgs  bool
	pkg       string
}

func (f *fakeCatalog) ListOrganizations(context.Context) ([]metadata.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOrgs {
		return nil, errors.New("ckan down")
	}
	return append([]metadata.Organization(nil), f.orgs...), nil
}

func (f *fakeCatalog) CreateOrganization(_ context.Context, name, _ string) (metadata.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org := metadata.Organization{ID: "org-" + strings.ToLower(name), Name: strings.ToLower(name), Title: name}
	f.orgs = append(f.orgs, org)
	return org, nil
}

func (f *fakeCatalog) PublishDataset(_ context.Context, p publisher.PublishParams) (publisher.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, p)
	id := p.DatasetID
	if id == "" {
		id = "ds-1"
	}
	return publisher.PublishResult{DatasetID: id, Name: p.Package.Name}, nil
}

func (f *fakeCatalog) ShowDataset(_ context.Context, id string) (gjson.Result, error) {
	if f.pkg == "" {
		return gjson.Result{}, errors.New("Not found")
	}
	return gjson.Parse(f.pkg), nil
}

type testEnv struct {
	srv     *httptest.Server
	catalog *fakeCatalog
	db      *store.Store
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	agent, err := generator.NewAgent(generator.MockLLM{})
	require.NoError(t, err)

	catalog := &fakeCatalog{orgs: []metadata.Organization{{ID: "o1", Name: "ayto", Title: "Ayuntamiento"}}}
	cfg := publisher.Config{
		CKAN:     publisher.CKANConfig{BaseURL: "https://ckan.example.org", UserID: 1},
		Workflow: publisher.WorkflowConfig{StepDelayMS: -1},
	}
	s, err := New(cfg, agent, catalog, db, Options{Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{srv: srv, catalog: catalog, db: db, client: &http.Client{Jar: jar}}
}

// csrf fetches a page to obtain the session and CSRF cookies and returns the token.
func (e *testEnv) csrf(t *testing.T) string {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + "/inicio/")
	require.NoError(t, err)
	resp.Body.Close()
	u, _ := url.Parse(e.srv.URL)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == workflow.CSRFCookieName {
			return c.Value
		}
	}
	t.Fatal("no csrf cookie")
	return ""
}

func (e *testEnv) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(workflow.CSRFHeaderName, token)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postForm(t *testing.T, path, token string, form url.Values) (*http.Response, *goquery.Document) {
	t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set(workflow.CSRFFormField, token)
	resp, err := e.client.PostForm(e.srv.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	d, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return resp, d
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, *goquery.Document) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	d, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return resp, d
}

func (e *testEnv) upload(t *testing.T, token string) *goquery.Document {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField(workflow.CSRFFormField, token))
	require.NoError(t, w.WriteField("name", "Calidad del aire"))
	require.NoError(t, w.WriteField("formato", "csv"))
	require.NoError(t, w.WriteField("metadata_url", ""))
	fw, err := w.CreateFormFile("files", "aire.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fw, sampleCSV)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := e.client.Post(e.srv.URL+"/crear-conjunto/", w.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/inferir/", resp.Request.URL.Path)
	d, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return d
}

func TestCSRFRejectsMissingToken(t *testing.T) {
	e := newTestEnv(t)
	resp := e.postJSON(t, "/api/extract-properties/", "", workflow.ExtractRequest{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	token := e.csrf(t)
	resp = e.postJSON(t, "/api/extract-properties/", token+"x", workflow.ExtractRequest{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExtractPropertiesEndpoint(t *testing.T) {
	e := newTestEnv(t)
	token := e.csrf(t)

	resp := e.postJSON(t, "/api/extract-properties/", token, workflow.ExtractRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.postJSON(t, "/api/extract-properties/", token, workflow.ExtractRequest{
		Files: []metadata.FileDescriptor{{Name: "aire.csv", Format: "csv", Content: sampleCSV}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := gjson.ParseBytes(data)
	assert.Equal(t, []any{"nombre", "valor"}, body.Get("properties").Value())
	assert.Equal(t, "nombre", body.Get("grouped.text.0").String())
	assert.Equal(t, "valor", body.Get("grouped.numeric.0").String())
	assert.Equal(t, "nombre", body.Get("auto_assignments.titulo.0").String())
}

func TestGenerateMetadataEndpoint(t *testing.T) {
	e := newTestEnv(t)
	token := e.csrf(t)
	files := []metadata.FileDescriptor{{Name: "aire.csv", Content: sampleCSV}}

	resp := e.postJSON(t, "/api/generate-metadata/", token, workflow.GenerateRequest{Files: files, FieldID: "color"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.postJSON(t, "/api/generate-metadata/", token, workflow.GenerateRequest{
		Files:              files,
		FieldID:            metadata.FieldTitulo,
		SelectedProperties: metadata.Assignment{metadata.FieldTitulo: {"nombre"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out workflow.GenerateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.Value)

	resp = e.postJSON(t, "/api/generate-title/", token, workflow.TitleRequest{Files: files})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var title workflow.TitleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&title))
	assert.True(t, title.Success)
	assert.NotEmpty(t, title.Title)
}

func TestCatalogProxy(t *testing.T) {
	e := newTestEnv(t)
	token := e.csrf(t)

	resp := e.postJSON(t, "/ckan/proxy/", token, workflow.ProxyRequest{Action: workflow.ActionGetOrganizations})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out workflow.ProxyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	assert.Equal(t, "o1", gjson.GetBytes(out.Result, "0.id").String())

	resp = e.postJSON(t, "/ckan/proxy/", token, workflow.ProxyRequest{Action: "drop_everything"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e.catalog.failOrgs = true
	resp = e.postJSON(t, "/ckan/proxy/", token, workflow.ProxyRequest{Action: workflow.ActionGetOrganizations})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = workflow.ProxyResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "ckan down", out.Error)
}

func TestInferenceFlowToPublish(t *testing.T) {
	e := newTestEnv(t)
	token := e.csrf(t)

	d := e.upload(t, token)
	chips := d.Find("#properties-container button.chip")
	require.Equal(t, 2, chips.Length())
	assert.Equal(t, "nombre", chips.First().Text())
	assert.Equal(t, 1, d.Find(`section[data-field="titulo"] .assigned-chip[data-property="nombre"]`).Length())

	query := "?formato=csv&metadata_url=&name=Calidad+del+aire"
	_, d = e.postForm(t, "/inferir/assign/"+query, token, url.Values{"field": {"tema"}, "property": {"valor"}})
	assert.Equal(t, 1, d.Find(`section[data-field="tema"] .assigned-chip[data-property="valor"]`).Length())

	resp, d := e.postForm(t, "/inferir/generate/"+query, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "full", d.Find("#resultado-panel").AttrOr("data-outcome", ""))
	assert.Equal(t, "2;url=/metadatos/?name=Calidad%20del%20aire&formato=csv&metadata_url=",
		d.Find(`meta[http-equiv="refresh"]`).AttrOr("content", ""))

	// resubmitting the form keeps the finished batch instead of running it again
	resp, d = e.postForm(t, "/inferir/generate/"+query, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "full", d.Find("#resultado-panel").AttrOr("data-outcome", ""))
	assert.Empty(t, d.Find("#alerta").Text())

	_, d = e.get(t, "/metadatos/?name=Calidad%20del%20aire&formato=csv&metadata_url=")
	titulo := d.Find(`#dataset-form input[name="titulo"]`).AttrOr("value", "")
	assert.NotEmpty(t, titulo)
	assert.NotEmpty(t, d.Find(`#dataset-form input[name="tema"]`).AttrOr("value", ""))
	assert.Equal(t, "calidad-del-aire", d.Find(`#dataset-form input[name="name"]`).AttrOr("value", ""))
	assert.Equal(t, 0, d.Find("#ckan-modal").Length())

	form := url.Values{
		"titulo":    {titulo},
		"name":      {"calidad-del-aire"},
		"page_path": {"/metadatos/"},
	}
	_, d = e.postForm(t, "/metadatos/publicar/abrir/", token, form)
	require.Equal(t, 1, d.Find("#ckan-modal").Length())
	assert.Equal(t, 2, d.Find("#ckan-org-select option").Length())
	assert.Equal(t, titulo, d.Find(`#dataset-form input[name="titulo"]`).AttrOr("value", ""))

	_, d = e.postForm(t, "/metadatos/publicar/confirmar/", token, form)
	assert.Equal(t, "Debes seleccionar una organización.", d.Find("#ckan-status").Text())
	assert.Empty(t, e.catalog.published)

	form.Set("organization_id", "o1")
	_, d = e.postForm(t, "/metadatos/publicar/confirmar/", token, form)
	assert.Equal(t, "¡Publicado con éxito! ID: ds-1", d.Find("#ckan-status").Text())
	assert.Equal(t, "1.5;url=/dataset/ds-1/", d.Find(`meta[http-equiv="refresh"]`).AttrOr("content", ""))

	_, d = e.postForm(t, "/metadatos/publicar/confirmar/", token, form)
	assert.Equal(t, "¡Publicado con éxito! ID: ds-1", d.Find("#ckan-status").Text())

	require.Len(t, e.catalog.published, 1)
	p := e.catalog.published[0]
	assert.Equal(t, "o1", p.OrganizationID)
	assert.Equal(t, titulo, p.Package.Title)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "aire.csv", p.Files[0].Name)

	resp, d = e.get(t, "/dataset/ds-1/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, titulo, d.Find("h1").Text())
	assert.Equal(t, "https://ckan.example.org/dataset/calidad-del-aire", d.Find(`a[rel="noopener"]`).AttrOr("href", ""))
}

func TestInferPageWithoutFilesIsDisabled(t *testing.T) {
	e := newTestEnv(t)
	_, d := e.get(t, "/inferir/")
	assert.Contains(t, d.Find("#alerta").Text(), "No encontramos ficheros")
	_, disabled := d.Find("#inferir-btn").Attr("disabled")
	assert.True(t, disabled)

	token := e.csrf(t)
	resp, _ := e.postForm(t, "/inferir/generate/", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateOrganizationFromModal(t *testing.T) {
	e := newTestEnv(t)
	token := e.csrf(t)

	form := url.Values{"titulo": {"Aire"}, "page_path": {"/metadatos/"}}
	e.postForm(t, "/metadatos/publicar/abrir/", token, form)
	_, d := e.postForm(t, "/metadatos/publicar/nueva/", token, form)
	require.Equal(t, 1, d.Find("#ckan-step-create-org").Length())

	_, d = e.postForm(t, "/metadatos/publicar/crear-org/", token, form)
	assert.Equal(t, "Nombre requerido", d.Find("#ckan-step-create-org .error").Text())

	form.Set("new_org_name", "Foo")
	_, d = e.postForm(t, "/metadatos/publicar/crear-org/", token, form)
	assert.Equal(t, 0, d.Find("#ckan-step-create-org").Length())
	assert.Equal(t, "org-foo", d.Find("#ckan-org-select option[selected]").AttrOr("value", ""))
}

func TestEditPageLoadsDataset(t *testing.T) {
	e := newTestEnv(t)
	e.catalog.pkg = `{"id":"ds-9","name":"aire","title":"Aire","notes":"Datos","tags":[{"name":"a"},{"name":"b"}]}`

	_, d := e.get(t, "/dataset/ds-9/editar/")
	assert.Equal(t, "Editar conjunto de datos", d.Find("h1").Text())
	assert.Equal(t, "ds-9", d.Find(`input[name="dataset_id"]`).AttrOr("value", ""))
	assert.Equal(t, "a, b", d.Find(`input[name="palabras_clave"]`).AttrOr("value", ""))
	assert.Equal(t, "/dataset/ds-9/editar/", d.Find(`input[name="page_path"]`).AttrOr("value", ""))

	token := e.csrf(t)
	form := url.Values{"titulo": {"Aire 2"}, "dataset_id": {"ds-9"}, "page_path": {"/dataset/ds-9/editar/"}}
	_, d = e.postForm(t, "/metadatos/publicar/confirmar/", token, form)
	assert.Equal(t, "1.5;url=/dataset/ds-9/", d.Find(`meta[http-equiv="refresh"]`).AttrOr("content", ""))
	require.Len(t, e.catalog.published, 1)
	assert.Equal(t, "ds-9", e.catalog.published[0].DatasetID)
	assert.Empty(t, e.catalog.published[0].Files)
}

func TestHomeListsAndDeletesDatasets(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.db.RecordDataset(context.Background(), store.Dataset{UserID: 1, Name: "Aire", CKANID: "ds-3", CKANName: "aire", OrganizationID: "o1"})
	require.NoError(t, err)

	_, d := e.get(t, "/inicio/")
	assert.Equal(t, 1, d.Find(`tr[data-id="ds-3"]`).Length())

	token := e.csrf(t)
	resp, d := e.postForm(t, "/dataset/ds-3/delete/", token, nil)
	assert.Equal(t, "/inicio/", resp.Request.URL.Path)
	assert.Equal(t, 0, d.Find(`tr[data-id="ds-3"]`).Length())

	resp, _ = e.get(t, "/dataset/ds-3/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndStatic(t *testing.T) {
	e := newTestEnv(t)
	resp, err := e.client.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = e.client.Get(e.srv.URL + "/static/app.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
