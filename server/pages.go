package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/store"
	"dataset_metadata_publisher/ui"
	"dataset_metadata_publisher/workflow"
)

// maxFileSize bounds a single uploaded data file.
const maxFileSize = 20 << 20

// inferQuery keeps the parameters the inference page forwards to the review page.
func inferQuery(r *http.Request) url.Values {
	q := url.Values{}
	for _, key := range []string{"name", ui.FieldFormato, ui.FieldMetadataURL} {
		if v, ok := r.URL.Query()[key]; ok {
			q[key] = v
		}
	}
	return q
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	datasets, err := s.db.ListDatasets(r.Context(), s.cfg.CKAN.UserID)
	if err != nil {
		s.logger.Printf("[server] list datasets: %v", err)
		http.Error(w, "could not list datasets", http.StatusInternalServerError)
		return
	}
	views := make([]ui.DatasetView, 0, len(datasets))
	for _, d := range datasets {
		views = append(views, s.datasetView(d))
	}
	s.render(w, http.StatusOK, ui.HomePage(ui.Page{CSRFToken: sess.csrf}, views))
}

func (s *Server) datasetView(d store.Dataset) ui.DatasetView {
	v := ui.DatasetView{
		ID:           d.CKANID,
		Title:        d.Name,
		Name:         d.CKANName,
		Organization: d.OrganizationID,
		Created:      d.CreatedAt,
	}
	if d.CKANName != "" {
		v.CatalogURL = strings.TrimRight(s.cfg.CKAN.BaseURL, "/") + "/dataset/" + url.PathEscape(d.CKANName)
	}
	return v
}

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.render(w, http.StatusOK, ui.UploadPage(ui.Page{CSRFToken: sess.csrf}, ""))
}

// handleUpload stores the chosen files in the session and moves on to the
// inference page.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	page := ui.Page{CSRFToken: sess.csrf}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.render(w, http.StatusBadRequest, ui.UploadPage(page, "No se pudo leer el formulario: "+err.Error()))
		return
	}
	headers := r.MultipartForm.File[ui.FieldFiles]
	if len(headers) == 0 {
		s.render(w, http.StatusBadRequest, ui.UploadPage(page, "Selecciona al menos un fichero."))
		return
	}

	files := make([]metadata.FileDescriptor, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.render(w, http.StatusBadRequest, ui.UploadPage(page, "No se pudo leer "+fh.Filename))
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
		f.Close()
		if err != nil {
			s.render(w, http.StatusBadRequest, ui.UploadPage(page, "No se pudo leer "+fh.Filename))
			return
		}
		if len(data) > maxFileSize {
			s.render(w, http.StatusRequestEntityTooLarge, ui.UploadPage(page, fh.Filename+" es demasiado grande"))
			return
		}
		files = append(files, metadata.FileDescriptor{
			Name:    fh.Filename,
			Format:  strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), ".")),
			Content: string(data),
		})
	}

	sess.reset()
	if err := workflow.StoreFiles(sess.storage, files); err != nil {
		s.render(w, http.StatusInternalServerError, ui.UploadPage(page, err.Error()))
		return
	}
	s.infof("session %s stored %d files", sess.id, len(files))

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(files[0].Name, filepath.Ext(files[0].Name))
	}
	q := url.Values{
		"name":              {name},
		ui.FieldFormato:     {strings.TrimSpace(r.FormValue(ui.FieldFormato))},
		ui.FieldMetadataURL: {strings.TrimSpace(r.FormValue(ui.FieldMetadataURL))},
	}
	http.Redirect(w, r, ui.PathInfer+"?"+q.Encode(), http.StatusSeeOther)
}

func (s *Server) controllerOptions() workflow.Options {
	wf := s.cfg.Workflow
	opts := workflow.Options{
		StepDelay:            time.Duration(wf.StepDelayMS) * time.Millisecond,
		SuccessRedirectDelay: time.Duration(wf.SuccessRedirectMS) * time.Millisecond,
		PartialRedirectDelay: time.Duration(wf.PartialRedirectMS) * time.Millisecond,
		Logger:               s.logger,
		Verbose:              s.verbose,
	}
	if wf.StepDelayMS < 0 {
		opts.StepDelay = -1
	}
	if s.cfg.LLM != nil {
		opts.Model = s.cfg.LLM.Model
		opts.Models = s.cfg.LLM.Models
	}
	return opts
}

// handleInferPage starts a fresh inference over the files in the session.
func (s *Server) handleInferPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	ctrl := workflow.NewController(s.workflowClient(r, sess), sess.storage, s.controllerOptions())
	if err := ctrl.Init(r.Context(), inferQuery(r)); err != nil {
		s.infof("init inference: %v", err)
	}
	sess.setInferController(ctrl)
	s.render(w, http.StatusOK, ui.InferPage(ui.Page{CSRFToken: sess.csrf, Query: inferQuery(r)}, ctrl.State()))
}

type inferActionKind int

const (
	actPick inferActionKind = iota
	actClosePicker
	actAssign
	actRemove
	actOpenPrompt
	actSavePrompt
	actCancelPrompt
	actSetModel
	actGenerate
	actGenerateTitle
)

// inferAction applies one user action to the session's controller and renders
// the resulting page.
func (s *Server) inferAction(kind inferActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.session(w, r)
		ctrl := sess.inferController()
		if ctrl == nil {
			target := ui.PathInfer
			if q := inferQuery(r); len(q) > 0 {
				target += "?" + q.Encode()
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}

		field := metadata.FieldID(r.FormValue(ui.FieldField))
		property := r.FormValue(ui.FieldProperty)

		var err error
		switch kind {
		case actPick:
			err = ctrl.OpenPicker(property)
		case actClosePicker:
			ctrl.ClosePicker()
		case actAssign:
			err = ctrl.Assign(field, property)
		case actRemove:
			err = ctrl.Remove(field, property)
		case actOpenPrompt:
			_, err = ctrl.OpenPrompt(field)
		case actSavePrompt:
			err = ctrl.SavePrompt(field, r.FormValue(ui.FieldPrompt))
		case actCancelPrompt:
			ctrl.CancelPrompt()
		case actSetModel:
			err = ctrl.SetModel(r.FormValue(ui.FieldModel))
		case actGenerate:
			_, err = ctrl.Generate(r.Context())
		case actGenerateTitle:
			_, err = ctrl.GenerateTitle(r.Context())
		}

		st := ctrl.State()
		status := http.StatusOK
		if err != nil {
			s.infof("inference action %d: %v", kind, err)
			if st.Alert == "" && st.Outcome == nil {
				st.Alert = workflow.UserMessage(err)
			}
			switch {
			case errors.Is(err, workflow.ErrBusy):
				status = http.StatusConflict
			case workflow.KindOf(err) == workflow.KindValidation:
				status = http.StatusBadRequest
			}
		}
		s.render(w, status, ui.InferPage(ui.Page{CSRFToken: sess.csrf, Query: inferQuery(r)}, st))
	}
}

func (s *Server) publishModal(r *http.Request, sess *session) *workflow.PublishModal {
	return sess.publishModal(func() *workflow.PublishModal {
		return workflow.NewPublishModal(s.workflowClient(r, sess), sess.storage, workflow.ModalOptions{
			RedirectDelay: time.Duration(s.cfg.Workflow.PublishRedirectMS) * time.Millisecond,
			Logger:        s.logger,
		})
	})
}

// handleMetadataPage shows the generated values for review before publishing.
func (s *Server) handleMetadataPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	modal := s.publishModal(r, sess)
	modal.Close()

	values := map[string]string{}
	for id, v := range workflow.GeneratedValues(sess.storage) {
		values[string(id)] = v
	}
	if values[publisher.FormTitulo] == "" {
		if title, ok := sess.storage.Get(metadata.KeyGeneratedTitle); ok {
			values[publisher.FormTitulo] = title
		}
	}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		values[publisher.FormName] = publisher.Slugify(name)
		if values[publisher.FormTitulo] == "" {
			values[publisher.FormTitulo] = name
		}
	}
	s.renderMetadata(w, http.StatusOK, sess, ui.MetadataView{
		Values:   values,
		PagePath: r.URL.Path,
		Modal:    modal.State(),
	})
}

// handleEditPage loads a published dataset from the catalog into the form.
func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	modal := s.publishModal(r, sess)
	modal.Close()

	id := chi.URLParam(r, "id")
	view := ui.MetadataView{PagePath: r.URL.Path, Values: map[string]string{publisher.FormDatasetID: id}}

	ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
	defer cancel()
	pkg, err := s.catalog.ShowDataset(ctx, id)
	if err != nil {
		s.logger.Printf("[server] show dataset %s: %v", id, err)
		view.Notice = "No se pudo cargar el conjunto desde CKAN: " + err.Error()
	} else {
		view.Values = publisher.FormFromPackage(pkg)
		view.Values[publisher.FormDatasetID] = id
	}
	view.Modal = modal.State()
	s.renderMetadata(w, http.StatusOK, sess, view)
}

// formFields are posted with the dataset form but are not dataset values.
var formFields = []string{
	workflow.CSRFFormField,
	ui.FieldPagePath,
	ui.FieldNewOrgName,
	ui.FieldNewOrgDesc,
	publisher.FormOrganizationID,
	publisher.FormMetadataContent,
}

// handlePublishAction drives the publish dialog. Every action posts the whole
// dataset form so the page re-renders with the user's edits intact.
func (s *Server) handlePublishAction(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	modal := s.publishModal(r, sess)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	values := map[string]string{}
	for key := range r.PostForm {
		values[key] = r.PostForm.Get(key)
	}
	pagePath := r.PostForm.Get(ui.FieldPagePath)
	if pagePath == "" {
		pagePath = ui.PathMetadata
	}

	if org := r.PostForm.Get(publisher.FormOrganizationID); org != "" {
		if err := modal.Select(org); err != nil {
			s.infof("select organization %s: %v", org, err)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
	defer cancel()

	var err error
	switch chi.URLParam(r, "action") {
	case ui.ActionOpen:
		err = modal.Open(ctx)
	case ui.ActionClose:
		modal.Close()
	case ui.ActionShowCreate:
		modal.ShowCreate()
	case ui.ActionCancelCreate:
		modal.CancelCreate()
	case ui.ActionCreateOrg:
		_, err = modal.CreateOrganization(ctx, r.PostForm.Get(ui.FieldNewOrgName), r.PostForm.Get(ui.FieldNewOrgDesc))
	case ui.ActionConfirm:
		form := url.Values{}
		for key, v := range r.PostForm {
			form[key] = v
		}
		for _, key := range formFields {
			form.Del(key)
		}
		_, err = modal.Confirm(ctx, form, strings.TrimSpace(r.PostForm.Get(publisher.FormMetadataContent)), pagePath)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.infof("publish action %s: %v", chi.URLParam(r, "action"), err)
	}

	s.renderMetadata(w, http.StatusOK, sess, ui.MetadataView{
		Values:   values,
		PagePath: pagePath,
		Modal:    modal.State(),
	})
}

func (s *Server) renderMetadata(w http.ResponseWriter, status int, sess *session, v ui.MetadataView) {
	page, err := ui.MetadataPage(ui.Page{CSRFToken: sess.csrf}, v)
	if err != nil {
		s.logger.Printf("[server] render metadata page: %v", err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	s.render(w, status, page)
}

func (s *Server) handleDatasetPage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	d, err := s.db.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Printf("[server] get dataset: %v", err)
		http.Error(w, "could not load dataset", http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, ui.DatasetPage(ui.Page{CSRFToken: sess.csrf}, s.datasetView(d)))
}

// handleDeleteDataset forgets a dataset locally; the catalog copy stays.
func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.db.DeleteDataset(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Printf("[server] delete dataset %s: %v", id, err)
		http.Error(w, "could not delete dataset", http.StatusInternalServerError)
		return
	}
	s.infof("deleted dataset %s", id)
	http.Redirect(w, r, ui.PathHome, http.StatusSeeOther)
}
