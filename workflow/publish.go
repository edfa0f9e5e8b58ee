package workflow

import (
	"context"
	"errors"
	"io"
	"log"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
)

// ModalStatus is the step the publish modal is in.
type ModalStatus string

const (
	ModalClosed     ModalStatus = "closed"
	ModalLoading    ModalStatus = "loading"
	ModalReady      ModalStatus = "ready"
	ModalPublishing ModalStatus = "publishing"
	ModalDone       ModalStatus = "done"
	ModalError      ModalStatus = "error"
)

// DefaultPublishRedirectDelay is how long the success message stays before
// moving to the dataset page.
const DefaultPublishRedirectDelay = 1500 * time.Millisecond

const (
	msgOrgLoadFailed  = "Error al cargar"
	msgConnection     = "Error de conexión"
	msgOrgRequired    = "Debes seleccionar una organización."
	msgOrgNameMissing = "Nombre requerido"
	msgPublishing     = "Publicando en CKAN..."
)

// ModalState is a snapshot of the publish modal.
type ModalState struct {
	Status        ModalStatus
	Organizations []metadata.Organization
	// OrgError replaces the organization options when loading failed.
	OrgError    string
	Selected    string
	Creating    bool
	CreateError string
	Message     string

	Redirect      string
	RedirectAfter time.Duration
}

// ModalOptions tune a PublishModal.
type ModalOptions struct {
	RedirectDelay time.Duration
	Logger        *log.Logger
}

// PublishModal publishes the reviewed dataset into the catalog under a
// selected or newly created organization.
type PublishModal struct {
	api     CatalogAPI
	storage Storage
	delay   time.Duration
	logger  *log.Logger

	mu    sync.Mutex
	state ModalState
}

func NewPublishModal(api CatalogAPI, storage Storage, opts ModalOptions) *PublishModal {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultPublishRedirectDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &PublishModal{
		api:     api,
		storage: storage,
		delay:   opts.RedirectDelay,
		logger:  opts.Logger,
		state:   ModalState{Status: ModalClosed},
	}
}

func (m *PublishModal) State() ModalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Organizations = slices.Clone(s.Organizations)
	return s
}

// Open shows the modal and fetches the organization list. The list is never
// cached between openings.
func (m *PublishModal) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Status == ModalPublishing {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = ModalState{Status: ModalLoading}
	m.mu.Unlock()

	err := m.reload(ctx)

	m.mu.Lock()
	m.state.Status = ModalReady
	m.mu.Unlock()
	return err
}

// Close hides the modal and clears its status line.
func (m *PublishModal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == ModalPublishing {
		return
	}
	m.state = ModalState{Status: ModalClosed}
}

func (m *PublishModal) reload(ctx context.Context) error {
	orgs, err := m.api.Organizations(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Printf("[workflow] load organizations: %v", err)
		m.state.Organizations = nil
		m.state.OrgError = msgOrgLoadFailed
		if KindOf(err) == KindTransport {
			m.state.OrgError = msgConnection
		}
		return err
	}
	m.state.Organizations = orgs
	m.state.OrgError = ""
	if m.state.Selected != "" && !m.hasOrg(m.state.Selected) {
		m.state.Selected = ""
	}
	return nil
}

func (m *PublishModal) hasOrg(id string) bool {
	return slices.ContainsFunc(m.state.Organizations, func(o metadata.Organization) bool { return o.ID == id })
}

// Select sets the organization the dataset is published under; "" clears it.
func (m *PublishModal) Select(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" && !m.hasOrg(id) {
		return validationError("select organization", "organización desconocida")
	}
	m.state.Selected = id
	return nil
}

func (m *PublishModal) ShowCreate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Creating = true
	m.state.CreateError = ""
}

func (m *PublishModal) CancelCreate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Creating = false
	m.state.CreateError = ""
}

// CreateOrganization creates an organization, reloads the list and selects
// the new one. An empty name is rejected without calling the catalog.
func (m *PublishModal) CreateOrganization(ctx context.Context, name, description string) (metadata.Organization, error) {
	if strings.TrimSpace(name) == "" {
		m.mu.Lock()
		m.state.CreateError = msgOrgNameMissing
		m.mu.Unlock()
		return metadata.Organization{}, validationError("create organization", msgOrgNameMissing)
	}

	org, err := m.api.CreateOrganization(ctx, name, description)
	if err != nil {
		m.logger.Printf("[workflow] create organization %q: %v", name, err)
		msg := "Error al crear organización: " + UserMessage(err)
		if KindOf(err) == KindTransport {
			msg = msgConnection
		}
		m.mu.Lock()
		m.state.CreateError = msg
		m.mu.Unlock()
		return metadata.Organization{}, err
	}

	// The new organization is selected even if the reload fails or lags.
	_ = m.reload(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasOrg(org.ID) {
		m.state.Organizations = append(m.state.Organizations, org)
		m.state.OrgError = ""
	}
	m.state.Selected = org.ID
	m.state.Creating = false
	m.state.CreateError = ""
	return org, nil
}

// Confirm submits the surrounding form to the catalog. Outside an edit page
// (pagePath without /editar/) an organization must be selected first. Once a
// publish has succeeded, Confirm returns ErrCompleted until Open or Close
// resets the modal.
func (m *PublishModal) Confirm(ctx context.Context, form url.Values, metadataContent, pagePath string) (string, error) {
	isUpdate := strings.Contains(pagePath, "/editar/")

	m.mu.Lock()
	switch m.state.Status {
	case ModalPublishing:
		m.mu.Unlock()
		return "", ErrBusy
	case ModalDone:
		m.mu.Unlock()
		return "", ErrCompleted
	}
	orgID := m.state.Selected
	if orgID == "" && !isUpdate {
		m.state.Message = msgOrgRequired
		m.mu.Unlock()
		return "", validationError("publish", msgOrgRequired)
	}
	m.state.Status = ModalPublishing
	m.state.Message = msgPublishing
	m.state.Redirect = ""
	m.mu.Unlock()

	body := url.Values{}
	for k, v := range form {
		body[k] = slices.Clone(v)
	}
	body.Set(publisher.FormOrganizationID, orgID)
	if !isUpdate {
		if raw, ok := m.storage.Get(metadata.KeyDatasetFiles); ok && raw != "" {
			body.Set(publisher.FormDatasetFiles, raw)
		}
	}
	if metadataContent != "" {
		body.Set(publisher.FormMetadataContent, metadataContent)
	}

	id, err := m.api.Publish(ctx, body)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Printf("[workflow] publish: %v", err)
		m.state.Status = ModalError
		if KindOf(err) == KindTransport {
			m.state.Message = "Error de red: " + errText(err)
		} else {
			m.state.Message = "Error: " + UserMessage(err)
		}
		return "", err
	}
	m.state.Status = ModalDone
	m.state.Message = "¡Publicado con éxito! ID: " + id
	m.state.Redirect = "/dataset/" + url.PathEscape(id) + "/"
	m.state.RedirectAfter = m.delay
	return id, nil
}

// errText is the underlying cause of a transport error.
func errText(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return UserMessage(err)
}
