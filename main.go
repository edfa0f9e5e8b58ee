package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dataset_metadata_publisher/generator"
	"dataset_metadata_publisher/metadata"
	"dataset_metadata_publisher/publisher"
	"dataset_metadata_publisher/server"
	"dataset_metadata_publisher/store"
	"dataset_metadata_publisher/workflow"
)

var verbose bool

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	configPath := flag.String("config", "config/config.json", "path to config.json")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides config.server_addr)")
	ckanToken := flag.String("ckan-token", "", "store the CKAN API token for the configured user and exit")
	files := flag.String("files", "", "comma-separated data files to infer metadata for (CLI mode)")
	name := flag.String("name", "", "dataset name (CLI mode)")
	serverURL := flag.String("server", "http://localhost:8080", "running server used in CLI mode")
	assign := flag.String("assign", "", "extra assignments field=property, comma-separated (CLI mode)")
	flag.BoolVar(&verbose, "v", false, "enable info logs")
	flag.Parse()

	cfg, err := publisher.LoadConfig(*configPath)
	if err != nil {
		fail(err)
	}

	if *ckanToken != "" {
		db, err := openStore(cfg)
		if err != nil {
			fail(err)
		}
		defer db.Close()
		if err := db.SetToken(context.Background(), cfg.CKAN.UserID, strings.TrimSpace(*ckanToken)); err != nil {
			fail(err)
		}
		log.Printf("[cli] stored CKAN token for user %d", cfg.CKAN.UserID)
		return
	}

	// Web server mode
	if *serve {
		if err := runServer(cfg, *addr); err != nil {
			fail(err)
		}
		return
	}

	if *files == "" {
		fmt.Fprintln(os.Stderr, "--files is required (or use --serve)")
		os.Exit(1)
	}
	if err := runCLI(cfg, *serverURL, *files, *name, *assign); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func openStore(cfg publisher.Config) (*store.Store, error) {
	dsn := cfg.Database
	if dsn == "" {
		dsn = "data/publisher.db"
	}
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(context.Background(), dsn)
}

func runServer(cfg publisher.Config, addr string) error {
	llm, err := buildLLM(cfg)
	if err != nil {
		return err
	}
	agent, err := generator.NewAgent(llm)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ckan, err := publisher.New(cfg.CKAN, nil, db.TokenFor(cfg.CKAN.UserID, cfg.CKAN.APIToken), verbose, log.Default())
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, agent, ckan, db, server.Options{
		Logger:      log.Default(),
		Verbose:     verbose,
		SessionIdle: 12 * time.Hour,
	})
	if err != nil {
		return err
	}
	listen := cfg.ServerAddr
	if addr != "" {
		listen = addr
	}
	if listen == "" {
		listen = ":8080"
	}
	log.Printf("Starting web server on %s", listen)
	return http.ListenAndServe(listen, srv.Routes())
}

// runCLI runs extraction and sequential generation for local files against a
// running server and prints the outcome as JSON.
func runCLI(cfg publisher.Config, serverURL, paths, name, assign string) error {
	var descriptors []metadata.FileDescriptor
	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, metadata.FileDescriptor{
			Name:    filepath.Base(p),
			Format:  strings.ToLower(strings.TrimPrefix(filepath.Ext(p), ".")),
			Content: string(data),
		})
	}
	if name == "" && len(descriptors) > 0 {
		name = strings.TrimSuffix(descriptors[0].Name, filepath.Ext(descriptors[0].Name))
	}

	storage := workflow.NewMemoryStorage()
	if err := workflow.StoreFiles(storage, descriptors); err != nil {
		return err
	}
	// the server only checks that cookie and header carry the same token
	client := workflow.NewClient(serverURL, nil, workflow.CSRFSigner(uuid.NewString()))

	opts := workflow.Options{
		StepDelay:            time.Duration(cfg.Workflow.StepDelayMS) * time.Millisecond,
		SuccessRedirectDelay: time.Duration(cfg.Workflow.SuccessRedirectMS) * time.Millisecond,
		PartialRedirectDelay: time.Duration(cfg.Workflow.PartialRedirectMS) * time.Millisecond,
		Logger:               log.Default(),
		Verbose:              verbose,
		OnProgress: func(p workflow.Progress) {
			log.Printf("[cli] %s", p)
		},
	}
	if cfg.LLM != nil {
		opts.Model = cfg.LLM.Model
		opts.Models = cfg.LLM.Models
	}
	ctrl := workflow.NewController(client, storage, opts)

	ctx := context.Background()
	if err := ctrl.Init(ctx, url.Values{"name": {name}}); err != nil {
		return fmt.Errorf("init: %s", workflow.UserMessage(err))
	}
	for _, pair := range strings.Split(assign, ",") {
		field, property, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if err := ctrl.Assign(metadata.FieldID(strings.TrimSpace(field)), strings.TrimSpace(property)); err != nil {
			return fmt.Errorf("assign %s: %s", pair, workflow.UserMessage(err))
		}
	}
	st := ctrl.State()
	log.Printf("[cli] %d properties, %d fields assigned", len(st.Properties), len(st.Selected.Fields()))

	res, err := ctrl.Generate(ctx)
	if err != nil {
		return err
	}
	log.Printf("[cli] %s", res.Message)
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if res.Outcome == workflow.OutcomeFailed {
		os.Exit(2)
	}
	return nil
}

func buildLLM(cfg publisher.Config) (generator.LLMClient, error) {
	if cfg.LLM == nil || cfg.LLM.Provider == "" {
		return nil, fmt.Errorf("llm config missing; please set llm.provider/model/api_key in config")
	}
	settings := &generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		Models:   cfg.LLM.Models,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	}
	switch cfg.LLM.Provider {
	case "openai":
		return generator.NewOpenAILLMFromConfig(settings)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API; base_url is mandatory.
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case "mock":
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}
