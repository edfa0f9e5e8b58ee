package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"dataset_metadata_publisher/extractor"
	"dataset_metadata_publisher/metadata"
)

// InferenceAPI is what the inference controller needs from the backend.
type InferenceAPI interface {
	ExtractProperties(ctx context.Context, files []metadata.FileDescriptor) (extractor.Result, error)
	GenerateMetadata(ctx context.Context, req GenerateRequest) (string, error)
	GenerateTitle(ctx context.Context, req TitleRequest) (string, error)
}

// CatalogAPI is what the publish modal needs from the backend.
type CatalogAPI interface {
	Organizations(ctx context.Context) ([]metadata.Organization, error)
	CreateOrganization(ctx context.Context, name, description string) (metadata.Organization, error)
	Publish(ctx context.Context, form url.Values) (string, error)
}

// Client calls the service endpoints over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	signer  Signer
}

// NewClient returns a Client for baseURL. A nil httpClient uses a client
// without timeout; a nil signer signs nothing.
func NewClient(baseURL string, httpClient *http.Client, signer Signer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if signer == nil {
		signer = NoSigner
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		signer:  signer,
	}
}

func (c *Client) ExtractProperties(ctx context.Context, files []metadata.FileDescriptor) (extractor.Result, error) {
	var out extractor.Result
	if err := c.postJSON(ctx, "extract properties", PathExtractProperties, ExtractRequest{Files: files}, &out); err != nil {
		return extractor.Result{}, err
	}
	if out.Properties == nil {
		return extractor.Result{}, &Error{Kind: KindApplication, Op: "extract properties", Message: "respuesta sin propiedades"}
	}
	return out, nil
}

func (c *Client) GenerateMetadata(ctx context.Context, req GenerateRequest) (string, error) {
	op := "generate " + string(req.FieldID)
	var out GenerateResponse
	if err := c.postJSON(ctx, op, PathGenerateMetadata, req, &out); err != nil {
		return "", err
	}
	if !out.Success || strings.TrimSpace(out.Value) == "" {
		msg := out.Error
		if msg == "" {
			msg = "respuesta inesperada de la IA"
		}
		return "", &Error{Kind: KindApplication, Op: op, Message: msg}
	}
	return out.Value, nil
}

func (c *Client) GenerateTitle(ctx context.Context, req TitleRequest) (string, error) {
	var out TitleResponse
	if err := c.postJSON(ctx, "generate title", PathGenerateTitle, req, &out); err != nil {
		return "", err
	}
	if !out.Success || strings.TrimSpace(out.Title) == "" {
		return "", &Error{Kind: KindApplication, Op: "generate title", Message: "No se pudo generar el título: respuesta inesperada de la IA"}
	}
	return out.Title, nil
}

func (c *Client) Organizations(ctx context.Context) ([]metadata.Organization, error) {
	var orgs []metadata.Organization
	if err := c.proxy(ctx, ProxyRequest{Action: ActionGetOrganizations}, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (c *Client) CreateOrganization(ctx context.Context, name, description string) (metadata.Organization, error) {
	var org metadata.Organization
	req := ProxyRequest{Action: ActionCreateOrganization, Name: name, Description: description}
	if err := c.proxy(ctx, req, &org); err != nil {
		return metadata.Organization{}, err
	}
	if org.ID == "" {
		return metadata.Organization{}, &Error{Kind: KindApplication, Op: "create organization", Message: "respuesta sin identificador"}
	}
	return org, nil
}

// Publish posts form as multipart/form-data and returns the dataset id.
func (c *Client) Publish(ctx context.Context, form url.Values) (string, error) {
	const op = "publish"
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			if err := w.WriteField(k, v); err != nil {
				return "", err
			}
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var out PublishResponse
	if err := c.post(ctx, op, PathCatalogPublish, w.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if !out.Success || out.DatasetID == "" {
		msg := out.Error
		if msg == "" {
			msg = "Desconocido"
		}
		return "", &Error{Kind: KindApplication, Op: op, Message: msg}
	}
	return out.DatasetID, nil
}

func (c *Client) proxy(ctx context.Context, req ProxyRequest, result any) error {
	op := "catalog " + req.Action
	var out ProxyResponse
	if err := c.postJSON(ctx, op, PathCatalogProxy, req, &out); err != nil {
		return err
	}
	if !out.Success || len(out.Result) == 0 || string(out.Result) == "null" {
		msg := out.Error
		if msg == "" {
			msg = "respuesta inesperada del catálogo"
		}
		return &Error{Kind: KindApplication, Op: op, Message: msg}
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return &Error{Kind: KindApplication, Op: op, Message: "respuesta inesperada del catálogo", Err: err}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.post(ctx, op, path, "application/json", bytes.NewReader(data), out)
}

// post sends a signed request and decodes the JSON answer into out.
func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.signer.Sign(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Message: "Error de conexión", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Message: "Error de conexión", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:    KindHTTP,
			Op:      op,
			Status:  resp.StatusCode,
			Message: httpErrorMessage(resp.StatusCode, data),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindApplication, Op: op, Message: "respuesta no válida del servidor", Err: err}
	}
	return nil
}

// httpErrorMessage prefers the "error" field of a JSON error body.
func httpErrorMessage(status int, body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Sprintf("HTTP %d: %s", status, e.Error)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}

var (
	_ InferenceAPI = (*Client)(nil)
	_ CatalogAPI   = (*Client)(nil)
)
