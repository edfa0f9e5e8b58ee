// Package workflow drives the metadata inference page and the catalog publish
// modal. A Controller owns the state of one browser session and talks to the
// service endpoints through an InferenceAPI; rendering is left to package ui.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"dataset_metadata_publisher/extractor"
	"dataset_metadata_publisher/metadata"
)

// User-facing messages.
const (
	msgNoFiles        = "No encontramos ficheros cargados. Vuelve a «Crear conjunto» y selecciona tus datos antes de inferir."
	msgBadFiles       = "Error al procesar los archivos cargados."
	msgExtractFailed  = "No pudimos identificar propiedades en los datos cargados. Comprueba que el formato sea JSON, CSV, RDF-Turtle o RDF-XML."
	msgNoProperties   = "No se detectaron propiedades en los archivos cargados."
	msgCancelled      = "generación cancelada"
	redirectMetadatos = "/metadatos/"
)

// Outcome classifies a finished generation batch.
type Outcome string

const (
	OutcomeFull    Outcome = "full"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// FieldError is a field whose generation failed.
type FieldError struct {
	Field   metadata.FieldID
	Message string
}

// Result is the summary of a generation batch.
type Result struct {
	Outcome   Outcome
	Values    map[metadata.FieldID]string
	Succeeded []metadata.FieldID
	Failed    []FieldError
	Message   string
	// Redirect is empty when the page stays put.
	Redirect      string
	RedirectAfter time.Duration
}

// Progress is reported before each generation request.
type Progress struct {
	Field metadata.FieldID
	Index int
	Total int
}

func (p Progress) String() string {
	return fmt.Sprintf("Generando %s (%d/%d)...", fieldName(p.Field), p.Index, p.Total)
}

// State is a snapshot of everything the inference page renders.
type State struct {
	Properties []string
	Grouped    metadata.Grouped
	Selected   metadata.Assignment
	Prompts    map[metadata.FieldID]string
	Model      string
	Models     []string

	Alert    string
	Disabled bool
	Busy     bool
	Progress string

	// Picking is the property whose field picker is open.
	Picking string
	// Editing is the field whose prompt editor is open, EditText its draft.
	Editing  metadata.FieldID
	EditText string

	Outcome *Result
}

// Options tune a Controller. Zero values take the defaults.
type Options struct {
	StepDelay            time.Duration
	SuccessRedirectDelay time.Duration
	PartialRedirectDelay time.Duration
	Model                string
	Models               []string
	// Sleep pauses between generation requests; it must return early with
	// ctx.Err() when ctx ends.
	Sleep      func(ctx context.Context, d time.Duration) error
	OnProgress func(Progress)
	Logger     *log.Logger
	Verbose    bool
}

const (
	DefaultStepDelay            = 500 * time.Millisecond
	DefaultSuccessRedirectDelay = 2 * time.Second
	DefaultPartialRedirectDelay = 3 * time.Second
)

func (o Options) withDefaults() Options {
	if o.StepDelay < 0 {
		o.StepDelay = 0
	} else if o.StepDelay == 0 {
		o.StepDelay = DefaultStepDelay
	}
	if o.SuccessRedirectDelay <= 0 {
		o.SuccessRedirectDelay = DefaultSuccessRedirectDelay
	}
	if o.PartialRedirectDelay <= 0 {
		o.PartialRedirectDelay = DefaultPartialRedirectDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Controller owns the inference state of one session.
type Controller struct {
	api     InferenceAPI
	storage Storage
	opts    Options

	mu    sync.Mutex
	state State
	files []metadata.FileDescriptor
	query url.Values
}

func NewController(api InferenceAPI, storage Storage, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		api:     api,
		storage: storage,
		opts:    opts,
		state: State{
			Grouped:  metadata.Group(nil),
			Selected: metadata.NewAssignment(),
			Prompts:  map[metadata.FieldID]string{},
			Model:    opts.Model,
			Models:   slices.Clone(opts.Models),
		},
	}
}

func (c *Controller) infof(format string, args ...interface{}) {
	if c.opts.Verbose {
		c.opts.Logger.Printf("[workflow] [INFO] "+format, args...)
	}
}

// Init loads the uploaded files from storage and extracts their properties.
// query carries the name, formato and metadata_url parameters forwarded to the
// review page. On failure the interface is disabled and the alert explains
// what to do.
func (c *Controller) Init(ctx context.Context, query url.Values) error {
	c.mu.Lock()
	c.query = query
	c.mu.Unlock()

	files, ok, err := LoadFiles(c.storage)
	if !ok {
		return c.disable(validationError("init", msgNoFiles))
	}
	if err != nil {
		return c.disable(&Error{Kind: KindValidation, Op: "init", Message: msgBadFiles, Err: err})
	}

	res, err := c.api.ExtractProperties(ctx, files)
	if err != nil {
		c.opts.Logger.Printf("[workflow] extract properties: %v", err)
		return c.disable(&Error{Kind: KindOf(err), Op: "init", Message: msgExtractFailed, Err: err})
	}
	if len(res.Properties) == 0 {
		return c.disable(&Error{Kind: KindApplication, Op: "init", Message: msgNoProperties})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = files
	c.state.Outcome = nil
	c.state.Properties = slices.Clone(res.Properties)
	c.state.Grouped = groupedFrom(res)
	c.state.Selected = metadata.NewAssignment()
	if len(res.AutoAssignments) > 0 {
		c.state.Selected = metadata.Normalize(res.AutoAssignments)
	}
	c.state.Alert = ""
	c.state.Disabled = false
	c.infof("loaded %d properties from %d files", len(res.Properties), len(files))
	return nil
}

func groupedFrom(res extractor.Result) metadata.Grouped {
	if res.Grouped != nil {
		g := metadata.Group(nil)
		for t, names := range res.Grouped {
			g[t] = slices.Clone(names)
		}
		return g
	}
	if len(res.Details) > 0 {
		return metadata.Group(res.Details)
	}
	props := make([]metadata.Property, 0, len(res.Properties))
	for _, p := range res.Properties {
		props = append(props, metadata.Property{Name: p, Type: metadata.TypeText})
	}
	return metadata.Group(props)
}

func (c *Controller) disable(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Alert = UserMessage(err)
	c.state.Disabled = true
	c.state.Properties = nil
	c.state.Grouped = metadata.Group(nil)
	return err
}

// State returns a deep copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Properties = slices.Clone(s.Properties)
	s.Grouped = make(metadata.Grouped, len(c.state.Grouped))
	for t, names := range c.state.Grouped {
		s.Grouped[t] = slices.Clone(names)
	}
	s.Selected = cloneAssignment(c.state.Selected)
	s.Prompts = maps.Clone(c.state.Prompts)
	s.Models = slices.Clone(s.Models)
	if c.state.Outcome != nil {
		r := *c.state.Outcome
		r.Values = maps.Clone(r.Values)
		r.Succeeded = slices.Clone(r.Succeeded)
		r.Failed = slices.Clone(r.Failed)
		s.Outcome = &r
	}
	return s
}

func cloneAssignment(a metadata.Assignment) metadata.Assignment {
	out := make(metadata.Assignment, len(a))
	for k, v := range a {
		out[k] = slices.Clone(v)
	}
	return out
}

// OpenPicker opens the field picker for property.
func (c *Controller) OpenPicker(property string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if !slices.Contains(c.state.Properties, property) {
		return validationError("pick", fmt.Sprintf("propiedad desconocida: %s", property))
	}
	c.state.Picking = property
	return nil
}

func (c *Controller) ClosePicker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Picking = ""
}

// Assign adds property to field and closes the picker. Assigning a property
// that is already there changes nothing.
func (c *Controller) Assign(field metadata.FieldID, property string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if _, err := c.state.Selected.Add(field, property); err != nil {
		return &Error{Kind: KindValidation, Op: "assign", Message: err.Error(), Err: err}
	}
	c.state.Picking = ""
	return nil
}

// Remove deletes property from field; removing an absent property is a no-op.
func (c *Controller) Remove(field metadata.FieldID, property string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	c.state.Selected.Remove(field, property)
	return nil
}

// OpenPrompt opens the editor for field and returns the text it starts with:
// the custom prompt when set, otherwise the field's default template.
func (c *Controller) OpenPrompt(field metadata.FieldID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !field.Valid() {
		return "", validationError("prompt", fmt.Sprintf("campo desconocido: %s", field))
	}
	text, ok := c.state.Prompts[field]
	if !ok {
		text = metadata.DefaultPrompt(field)
	}
	c.state.Editing = field
	c.state.EditText = text
	return text, nil
}

// SavePrompt stores the trimmed text as field's custom prompt. Empty text
// drops the override so the default applies again.
func (c *Controller) SavePrompt(field metadata.FieldID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !field.Valid() {
		return validationError("prompt", fmt.Sprintf("campo desconocido: %s", field))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		delete(c.state.Prompts, field)
	} else {
		c.state.Prompts[field] = text
	}
	c.state.Editing = ""
	c.state.EditText = ""
	return nil
}

func (c *Controller) CancelPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Editing = ""
	c.state.EditText = ""
}

// SetModel selects the AI model sent with each generation request.
func (c *Controller) SetModel(model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	model = strings.TrimSpace(model)
	if len(c.state.Models) > 0 && model != "" && !slices.Contains(c.state.Models, model) {
		return validationError("model", fmt.Sprintf("modelo no disponible: %s", model))
	}
	c.state.Model = model
	return nil
}

func (c *Controller) editable() error {
	if c.state.Disabled {
		return ErrDisabled
	}
	if c.state.Busy {
		return ErrBusy
	}
	return nil
}

type batch struct {
	files     []metadata.FileDescriptor
	selection metadata.Assignment
	prompts   map[metadata.FieldID]string
	model     string
	redirect  string
}

// begin marks the controller busy and snapshots what a batch needs.
func (c *Controller) begin() (batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return batch{}, err
	}
	if c.state.Outcome != nil && c.state.Outcome.Redirect != "" {
		return batch{}, ErrCompleted
	}
	c.state.Busy = true
	c.state.Outcome = nil
	c.state.Progress = ""
	c.state.Picking = ""
	return batch{
		files:     slices.Clone(c.files),
		selection: cloneAssignment(c.state.Selected),
		prompts:   maps.Clone(c.state.Prompts),
		model:     c.state.Model,
		redirect:  metadatosURL(c.query),
	}, nil
}

func (c *Controller) finish(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Busy = false
	c.state.Progress = ""
	c.state.Outcome = &res
}

func (c *Controller) persistSelection(selection metadata.Assignment) {
	data, err := json.Marshal(selection.NonEmpty())
	if err != nil {
		c.opts.Logger.Printf("[workflow] encode selection: %v", err)
		return
	}
	c.storage.Set(metadata.KeyInferenceSelection, string(data))
}

// Generate requests a value for every assigned field, in field order and one
// at a time, pausing StepDelay after each request. A failed field does not
// stop the batch. Successful values are persisted under their storage keys.
func (c *Controller) Generate(ctx context.Context) (Result, error) {
	b, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	c.persistSelection(b.selection)

	fields := b.selection.Fields()
	res := Result{Values: map[metadata.FieldID]string{}}
	for i, field := range fields {
		p := Progress{Field: field, Index: i + 1, Total: len(fields)}
		c.setProgress(p)

		req := GenerateRequest{
			Files:              b.files,
			SelectedProperties: b.selection,
			FieldID:            field,
			AIModel:            b.model,
		}
		if prompt, ok := b.prompts[field]; ok {
			req.CustomPrompt = &prompt
		}
		value, err := c.api.GenerateMetadata(ctx, req)
		if err != nil {
			c.opts.Logger.Printf("[workflow] generate %s: %v", field, err)
			res.Failed = append(res.Failed, FieldError{Field: field, Message: UserMessage(err)})
			c.storage.Remove(field.StorageKey())
		} else {
			c.infof("generated %s (%d chars)", field, len(value))
			res.Values[field] = value
			res.Succeeded = append(res.Succeeded, field)
			c.storage.Set(field.StorageKey(), value)
		}

		if err := c.opts.Sleep(ctx, c.opts.StepDelay); err != nil {
			for _, rest := range fields[i+1:] {
				res.Failed = append(res.Failed, FieldError{Field: rest, Message: msgCancelled})
			}
			break
		}
	}

	c.classify(&res, b.redirect)
	c.finish(res)
	return res, nil
}

func (c *Controller) setProgress(p Progress) {
	c.mu.Lock()
	c.state.Progress = p.String()
	c.mu.Unlock()
	if c.opts.OnProgress != nil {
		c.opts.OnProgress(p)
	}
}

func (c *Controller) classify(res *Result, redirect string) {
	switch {
	case len(res.Failed) == 0:
		res.Outcome = OutcomeFull
		res.Redirect = redirect
		res.RedirectAfter = c.opts.SuccessRedirectDelay
		if len(res.Succeeded) == 0 {
			res.Message = "No hay campos con propiedades asignadas. Continuando sin generación automática..."
		} else {
			res.Message = fmt.Sprintf("✅ Metadatos generados con IA: %s.", fieldNames(res.Succeeded))
		}
	case len(res.Succeeded) > 0:
		res.Outcome = OutcomePartial
		res.Redirect = redirect
		res.RedirectAfter = c.opts.PartialRedirectDelay
		res.Message = fmt.Sprintf("⚠️ Generados: %s. Con errores: %s.", fieldNames(res.Succeeded), failureList(res.Failed))
	default:
		res.Outcome = OutcomeFailed
		res.Message = fmt.Sprintf("❌ No se pudo generar ningún metadato. %s.", failureList(res.Failed))
	}
}

// GenerateTitle runs the one-shot title flow. The page moves on to the review
// step even when the title could not be generated.
func (c *Controller) GenerateTitle(ctx context.Context) (Result, error) {
	b, err := c.begin()
	if err != nil {
		return Result{}, err
	}
	c.persistSelection(b.selection)

	res := Result{Values: map[metadata.FieldID]string{}, Redirect: b.redirect}
	title, err := c.generateTitle(ctx, b)
	if err != nil {
		c.opts.Logger.Printf("[workflow] generate title: %v", err)
		res.Outcome = OutcomeFailed
		res.RedirectAfter = c.opts.PartialRedirectDelay
		res.Failed = []FieldError{{Field: metadata.FieldTitulo, Message: UserMessage(err)}}
		res.Message = fmt.Sprintf("⚠️ Error al generar título con IA: %s\n\nContinuando sin título automático...", UserMessage(err))
	} else {
		c.storage.Set(metadata.KeyGeneratedTitle, title)
		res.Outcome = OutcomeFull
		res.RedirectAfter = c.opts.SuccessRedirectDelay
		res.Values[metadata.FieldTitulo] = title
		res.Succeeded = []metadata.FieldID{metadata.FieldTitulo}
		res.Message = fmt.Sprintf("✅ Título generado por IA:\n%q", title)
	}
	c.finish(res)
	return res, nil
}

func (c *Controller) generateTitle(ctx context.Context, b batch) (string, error) {
	if len(b.files) == 0 {
		return "", validationError("generate title", "No se encontraron archivos cargados")
	}
	return c.api.GenerateTitle(ctx, TitleRequest{
		Files:              b.files,
		SelectedProperties: b.selection.NonEmpty(),
		AIModel:            b.model,
	})
}

// componentUnescaper undoes the QueryEscape escapes that encodeURIComponent
// leaves as literals.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// metadatosURL builds the review page URL from the forwarded parameters,
// escaping values the way encodeURIComponent does.
func metadatosURL(q url.Values) string {
	esc := func(k string) string {
		return componentUnescaper.Replace(url.QueryEscape(q.Get(k)))
	}
	return fmt.Sprintf("%s?name=%s&formato=%s&metadata_url=%s",
		redirectMetadatos, esc("name"), esc("formato"), esc("metadata_url"))
}

func fieldName(id metadata.FieldID) string {
	if f, ok := metadata.LookupField(id); ok {
		return f.Name
	}
	return string(id)
}

func fieldNames(ids []metadata.FieldID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = fieldName(id)
	}
	return strings.Join(names, ", ")
}

func failureList(failed []FieldError) string {
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = fmt.Sprintf("%s (%s)", fieldName(f.Field), f.Message)
	}
	return strings.Join(parts, ", ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
