// Package server exposes the inference and publishing service over HTTP: the
// JSON endpoints used by the workflow and the HTML pages that drive it.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"

	"dataset_metadata_publisher/extractor"
	"dataset_metadata_publisher/generator"
	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/store"
	"dataset_metadata_publisher/ui"
	"dataset_metadata_publisher/workflow"
)

//go:embed static
var embeddedStatic embed.FS

// Catalog is the part of the CKAN client the server uses.
type Catalog interface {
	ListOrganizations(ctx context.Context) ([]metadata.Organization, error)
	CreateOrganization(ctx context.Context, name, description string) (metadata.Organization, error)
	PublishDataset(ctx context.Context, params publisher.PublishParams) (publisher.PublishResult, error)
	ShowDataset(ctx context.Context, datasetID string) (gjson.Result, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger  *log.Logger
	Verbose bool
	// HTTPClient is used by the page workflows to call the JSON endpoints.
	HTTPClient *http.Client
	// SessionIdle drops sessions unused for that long; zero keeps them.
	SessionIdle time.Duration
}

type Server struct {
	cfg       publisher.Config
	extractor *extractor.Extractor
	genAgent  *generator.Agent
	catalog   Catalog
	db        *store.Store
	sessions  *sessionStore
	staticFS  http.Handler
	client    *http.Client
	logger    *log.Logger
	verbose   bool
}

func New(cfg publisher.Config, genAgent *generator.Agent, catalog Catalog, db *store.Store, opts Options) (*Server, error) {
	if genAgent == nil {
		return nil, errors.New("generator agent required")
	}
	if catalog == nil {
		return nil, errors.New("catalog client required")
	}
	if db == nil {
		return nil, errors.New("dataset store required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}

	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		extractor: extractor.New(opts.Logger),
		genAgent:  genAgent,
		catalog:   catalog,
		db:        db,
		sessions:  newStore(opts.SessionIdle),
		staticFS:  http.StripPrefix("/static/", http.FileServer(http.FS(sub))),
		client:    opts.HTTPClient,
		logger:    opts.Logger,
		verbose:   opts.Verbose,
	}, nil
}

func (s *Server) infof(format string, args ...interface{}) {
	if !s.verbose {
		return
	}
	s.logger.Printf("[server] [INFO] "+format, args...)
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)
	r.Use(s.csrfProtect)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/static/*", s.staticFS)

	// JSON endpoints
	r.Post(workflow.PathExtractProperties, s.handleExtractProperties)
	r.Post(workflow.PathGenerateTitle, s.handleGenerateTitle)
	r.Post(workflow.PathGenerateMetadata, s.handleGenerateMetadata)
	r.Post(workflow.PathCatalogProxy, s.handleCatalogProxy)
	r.Post(workflow.PathCatalogPublish, s.handleCatalogPublish)

	// Pages
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, ui.PathHome, http.StatusFound)
	})
	r.Get(ui.PathHome, s.handleHome)
	r.Get(ui.PathUpload, s.handleUploadPage)
	r.Post(ui.PathUpload, s.handleUpload)

	r.Get(ui.PathInfer, s.handleInferPage)
	r.Post(ui.PathInferPick, s.inferAction(actPick))
	r.Post(ui.PathInferClosePicker, s.inferAction(actClosePicker))
	r.Post(ui.PathInferAssign, s.inferAction(actAssign))
	r.Post(ui.PathInferRemove, s.inferAction(actRemove))
	r.Post(ui.PathInferPrompt, s.inferAction(actOpenPrompt))
	r.Post(ui.PathInferPromptSave, s.inferAction(actSavePrompt))
	r.Post(ui.PathInferPromptCancel, s.inferAction(actCancelPrompt))
	r.Post(ui.PathInferModel, s.inferAction(actSetModel))
	r.Post(ui.PathInferGenerate, s.inferAction(actGenerate))
	r.Post(ui.PathInferTitle, s.inferAction(actGenerateTitle))

	r.Get(ui.PathMetadata, s.handleMetadataPage)
	r.Post(ui.PathPublish+"{action}/", s.handlePublishAction)

	r.Get(ui.PathDataset+"{id}/", s.handleDatasetPage)
	r.Get(ui.PathDataset+"{id}/editar/", s.handleEditPage)
	r.Post(ui.PathDataset+"{id}/delete/", s.handleDeleteDataset)
	return r
}

// --- Middleware ---

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		s.infof("%s %s %d %s", r.Method, path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// csrfProtect rejects mutating requests whose token (X-CSRFToken header or
// csrfmiddlewaretoken form field) does not match the csrftoken cookie.
func (s *Server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(workflow.CSRFCookieName)
		if err != nil || cookie.Value == "" {
			s.logger.Printf("[server] csrf: missing cookie on %s %s", r.Method, r.URL.Path)
			writeError(w, http.StatusForbidden, "CSRF_FAILED", "CSRF cookie not set")
			return
		}
		token := r.Header.Get(workflow.CSRFHeaderName)
		if token == "" {
			token = r.FormValue(workflow.CSRFFormField)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(cookie.Value)) != 1 {
			s.logger.Printf("[server] csrf: token mismatch on %s %s", r.Method, r.URL.Path)
			writeError(w, http.StatusForbidden, "CSRF_FAILED", "CSRF token missing or incorrect")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// apiBase is the base URL the page workflows use to reach the JSON endpoints.
func (s *Server) apiBase(r *http.Request) string {
	if s.cfg.APIBaseURL != "" {
		return strings.TrimRight(s.cfg.APIBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) workflowClient(r *http.Request, sess *session) *workflow.Client {
	return workflow.NewClient(s.apiBase(r), s.client, workflow.CSRFSigner(sess.csrf))
}

// render writes a full HTML page.
func (s *Server) render(w http.ResponseWriter, status int, page *html.Node) {
	var buf bytes.Buffer
	if err := ui.Render(&buf, page); err != nil {
		s.logger.Printf("[server] render: %v", err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
