// Package publisher talks to the CKAN action API: organizations, datasets
// (packages) and file resources.
package publisher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"dataset_metadata_publisher/metadata"
)

const actionPath = "/api/3/action/"

// TokenFunc returns the API token used for the next catalog call.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

// ErrNoToken is returned when no API token could be found for the user.
var ErrNoToken = errors.New("no CKAN API token found for user")

// PublishParams describes a dataset to create or update with its files.
type PublishParams struct {
	// DatasetID selects update mode when non-empty.
	DatasetID      string
	OrganizationID string
	Package        PackageInput
	Files          []metadata.FileDescriptor
}

// PublishResult reports what was written to the catalog.
type PublishResult struct {
	DatasetID   string
	Name        string
	ResourceIDs []string
}

// Publisher orchestrates calls to a CKAN instance.
type Publisher struct {
	baseURL string
	client  *http.Client
	token   TokenFunc
	verbose bool
	logger  *log.Logger
}

// New creates a Publisher. A nil client gets one built from cfg.
func New(cfg CKANConfig, client *http.Client, token TokenFunc, verbose bool, logger *log.Logger) (*Publisher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ckan base_url is required")
	}
	if token == nil {
		token = StaticToken(cfg.APIToken)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout()}
		if cfg.InsecureSkipVerify {
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // local CKAN with self-signed cert
			}
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		token:   token,
		verbose: verbose,
		logger:  logger,
	}, nil
}

func (p *Publisher) infof(format string, args ...interface{}) {
	if !p.verbose {
		return
	}
	p.logger.Printf("[INFO] "+format, args...)
}

// ListOrganizations returns the organizations the user may create datasets in.
func (p *Publisher) ListOrganizations(ctx context.Context) ([]metadata.Organization, error) {
	res, err := p.action(ctx, "organization_list_for_user", map[string]string{"permission": "create_dataset"})
	if err != nil {
		return nil, err
	}
	var orgs []metadata.Organization
	res.ForEach(func(_, org gjson.Result) bool {
		orgs = append(orgs, orgFromResult(org))
		return true
	})
	p.infof("Listed %d organizations", len(orgs))
	return orgs, nil
}

// CreateOrganization creates an organization whose URL name is derived from name.
func (p *Publisher) CreateOrganization(ctx context.Context, name, description string) (metadata.Organization, error) {
	if strings.TrimSpace(name) == "" {
		return metadata.Organization{}, errors.New("organization name is required")
	}
	res, err := p.action(ctx, "organization_create", map[string]string{
		"name":        Slugify(name),
		"title":       name,
		"description": description,
	})
	if err != nil {
		return metadata.Organization{}, err
	}
	org := orgFromResult(res)
	if org.ID == "" {
		return metadata.Organization{}, errors.New("failed to create organization: missing id in response")
	}
	p.infof("Created organization %s (%s)", org.Name, org.ID)
	return org, nil
}

// CreateDataset calls package_create and returns the new dataset id.
func (p *Publisher) CreateDataset(ctx context.Context, pkg PackageInput, organizationID string) (gjson.Result, error) {
	pkg.OwnerOrg = organizationID
	body, err := BuildPackagePayload(pkg)
	if err != nil {
		return gjson.Result{}, err
	}
	return p.action(ctx, "package_create", json.RawMessage(body))
}

// UpdateDataset calls package_update on datasetID.
func (p *Publisher) UpdateDataset(ctx context.Context, datasetID string, pkg PackageInput, organizationID string) (gjson.Result, error) {
	pkg.ID = datasetID
	if organizationID != "" {
		pkg.OwnerOrg = organizationID
	}
	body, err := BuildPackagePayload(pkg)
	if err != nil {
		return gjson.Result{}, err
	}
	return p.action(ctx, "package_update", json.RawMessage(body))
}

// ShowDataset returns the package stored under datasetID.
func (p *Publisher) ShowDataset(ctx context.Context, datasetID string) (gjson.Result, error) {
	if datasetID == "" {
		return gjson.Result{}, errors.New("dataset id is required")
	}
	return p.action(ctx, "package_show", map[string]string{"id": datasetID})
}

// CreateResource uploads one file to datasetID.
func (p *Publisher) CreateResource(ctx context.Context, datasetID string, file metadata.FileDescriptor, description string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"package_id", datasetID},
		{"name", file.Name},
		{"format", strings.ToUpper(file.Format)},
		{"description", description},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("upload", file.Name)
	if err != nil {
		return "", err
	}
	if _, err := io.WriteString(part, file.Content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	res, err := p.do(ctx, "resource_create", writer.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	id := res.Get("id").String()
	if id == "" {
		return "", fmt.Errorf("failed to create resource %s: missing id in response", file.Name)
	}
	return id, nil
}

// PublishDataset creates (or updates) the dataset and uploads every file.
func (p *Publisher) PublishDataset(ctx context.Context, params PublishParams) (PublishResult, error) {
	var (
		res gjson.Result
		err error
	)
	if params.DatasetID != "" {
		res, err = p.UpdateDataset(ctx, params.DatasetID, params.Package, params.OrganizationID)
	} else {
		if params.OrganizationID == "" {
			return PublishResult{}, errors.New("organization id is required to create a dataset")
		}
		res, err = p.CreateDataset(ctx, params.Package, params.OrganizationID)
	}
	if err != nil {
		return PublishResult{}, err
	}
	out := PublishResult{DatasetID: res.Get("id").String(), Name: res.Get("name").String()}
	if out.DatasetID == "" {
		return PublishResult{}, errors.New("failed to publish dataset: missing id in response")
	}
	p.infof("Dataset %s stored as %s", out.Name, out.DatasetID)

	for _, f := range params.Files {
		rid, err := p.CreateResource(ctx, out.DatasetID, f, "")
		if err != nil {
			return out, err
		}
		p.infof("Uploaded resource %s -> %s", f.Name, rid)
		out.ResourceIDs = append(out.ResourceIDs, rid)
	}
	return out, nil
}

// action posts a JSON body to a CKAN action and returns its result.
func (p *Publisher) action(ctx context.Context, name string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}
	return p.do(ctx, name, "application/json", bytes.NewReader(body))
}

func (p *Publisher) do(ctx context.Context, name, contentType string, body io.Reader) (gjson.Result, error) {
	token, err := p.token(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	if token == "" {
		return gjson.Result{}, ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+actionPath+name, body)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", token)

	resp, err := p.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("CKAN API error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("CKAN API error: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	parsed := gjson.ParseBytes(data)
	if resp.StatusCode/100 != 2 || !parsed.Get("success").Bool() {
		return gjson.Result{}, fmt.Errorf("CKAN API error: %s failed: %d %s", name, resp.StatusCode, ckanErrorMessage(parsed))
	}
	return parsed.Get("result"), nil
}

// ckanErrorMessage flattens CKAN's {"error": {...}} object into one line.
func ckanErrorMessage(res gjson.Result) string {
	e := res.Get("error")
	if !e.Exists() {
		return "unknown error"
	}
	if msg := e.Get("message"); msg.Exists() {
		return msg.String()
	}
	var parts []string
	e.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "__type" {
			return true
		}
		parts = append(parts, key.String()+": "+value.String())
		return true
	})
	if len(parts) == 0 {
		return e.Raw
	}
	return strings.Join(parts, "; ")
}

func orgFromResult(r gjson.Result) metadata.Organization {
	return metadata.Organization{
		ID:    r.Get("id").String(),
		Name:  r.Get("name").String(),
		Title: r.Get("title").String(),
	}
}
