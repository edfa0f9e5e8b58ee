package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"dataset_metadata_publisher/generator"
	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/store"
	"dataset_metadata_publisher/workflow"
)

const (
	generateTimeout = 120 * time.Second
	catalogTimeout  = 5 * time.Minute
	maxUploadMemory = 32 << 20
)

func (s *Server) handleExtractProperties(w http.ResponseWriter, r *http.Request) {
	var req workflow.ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FILES", "No se han recibido ficheros")
		return
	}
	res, err := s.extractor.Extract(req.Files)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "EXTRACTION_FAILED", err.Error())
		return
	}
	s.infof("extracted %d properties from %d files", len(res.Properties), len(req.Files))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerateMetadata(w http.ResponseWriter, r *http.Request) {
	var req workflow.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if !req.FieldID.Valid() {
		writeError(w, http.StatusBadRequest, "UNKNOWN_FIELD", "Campo desconocido: "+string(req.FieldID))
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FILES", "No se han recibido ficheros")
		return
	}

	gen := generator.FieldRequest{
		Files:    req.Files,
		Selected: metadata.Normalize(req.SelectedProperties),
		Field:    req.FieldID,
		Model:    req.AIModel,
	}
	if req.CustomPrompt != nil {
		gen.CustomPrompt = *req.CustomPrompt
	}

	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()
	value, err := s.genAgent.GenerateField(ctx, gen)
	if err != nil {
		s.logger.Printf("[server] generate %s: %v", req.FieldID, err)
		writeJSON(w, http.StatusBadGateway, workflow.GenerateResponse{Error: err.Error()})
		return
	}
	s.infof("generated %s (%d chars)", req.FieldID, len(value))
	writeJSON(w, http.StatusOK, workflow.GenerateResponse{Success: true, Value: value})
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	var req workflow.TitleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "NO_FILES", "No se han recibido ficheros")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), generateTimeout)
	defer cancel()
	title, err := s.genAgent.GenerateTitle(ctx, generator.TitleRequest{
		Files:    req.Files,
		Selected: metadata.Normalize(req.SelectedProperties),
		Model:    req.AIModel,
	})
	if err != nil {
		s.logger.Printf("[server] generate title: %v", err)
		writeJSON(w, http.StatusBadGateway, workflow.TitleResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, workflow.TitleResponse{Success: true, Title: title})
}

func (s *Server) handleCatalogProxy(w http.ResponseWriter, r *http.Request) {
	var req workflow.ProxyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch req.Action {
	case workflow.ActionGetOrganizations:
		result, err = s.catalog.ListOrganizations(ctx)
	case workflow.ActionCreateOrganization:
		if strings.TrimSpace(req.Name) == "" {
			writeJSON(w, http.StatusOK, workflow.ProxyResponse{Error: "Nombre requerido"})
			return
		}
		result, err = s.catalog.CreateOrganization(ctx, strings.TrimSpace(req.Name), req.Description)
	default:
		writeError(w, http.StatusBadRequest, "UNKNOWN_ACTION", "acción desconocida: "+req.Action)
		return
	}
	if err != nil {
		s.logger.Printf("[server] catalog %s: %v", req.Action, err)
		writeJSON(w, http.StatusOK, workflow.ProxyResponse{Error: err.Error()})
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, workflow.ProxyResponse{Success: true, Result: raw})
}

func (s *Server) handleCatalogPublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "INVALID_FORM", err.Error())
		return
	}

	params := publisher.PublishParams{
		DatasetID:      strings.TrimSpace(r.FormValue(publisher.FormDatasetID)),
		OrganizationID: strings.TrimSpace(r.FormValue(publisher.FormOrganizationID)),
		Package:        publisher.PackageFromForm(r.FormValue),
	}
	if params.Package.Title == "" {
		writeJSON(w, http.StatusOK, workflow.PublishResponse{Error: "El título es obligatorio"})
		return
	}
	if params.DatasetID == "" && params.OrganizationID == "" {
		writeJSON(w, http.StatusOK, workflow.PublishResponse{Error: "Debes seleccionar una organización."})
		return
	}
	if raw := r.FormValue(publisher.FormDatasetFiles); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Files); err != nil {
			writeJSON(w, http.StatusOK, workflow.PublishResponse{Error: "dataset_files_data inválido: " + err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
	defer cancel()
	res, err := s.catalog.PublishDataset(ctx, params)
	if err != nil {
		s.logger.Printf("[server] publish: %v", err)
		writeJSON(w, http.StatusOK, workflow.PublishResponse{Error: err.Error()})
		return
	}

	if _, err := s.db.RecordDataset(ctx, store.Dataset{
		UserID:         s.cfg.CKAN.UserID,
		Name:           params.Package.Title,
		CKANID:         res.DatasetID,
		CKANName:       res.Name,
		OrganizationID: params.OrganizationID,
	}); err != nil {
		// the catalog already holds the dataset; only the local listing misses it
		s.logger.Printf("[server] record dataset %s: %v", res.DatasetID, err)
	}
	s.infof("published dataset %s (%d resources)", res.DatasetID, len(res.ResourceIDs))
	writeJSON(w, http.StatusOK, workflow.PublishResponse{Success: true, DatasetID: res.DatasetID})
}
