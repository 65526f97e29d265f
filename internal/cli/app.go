package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/config"
	"github.com/ralt/addonsync/internal/installer"
	"github.com/ralt/addonsync/internal/orchestrator"
	"github.com/ralt/addonsync/internal/registry"
	"github.com/ralt/addonsync/internal/resolver"
	"github.com/ralt/addonsync/internal/scanner"
	"github.com/ralt/addonsync/internal/transport"
)

// app wires the components for one command invocation
type app struct {
	cfg      *config.Config
	registry *registry.Registry
	orch     *orchestrator.Orchestrator
}

func defaultConfigHint() string {
	return config.DefaultPath()
}

func loadConfig(configPath string) (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Using config %s", path)

	store, err := registry.Open(cfg.Registry.Backend, cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	reg := registry.New(store)
	if err := reg.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}

	client := transport.NewClient(transport.Options{
		UserAgent:         "addonsync/" + Version,
		RequestsPerSecond: cfg.Resolver.RequestsPerSecond,
		MaxDownloadBytes:  cfg.Resolver.MaxDownloadBytes,
	})
	res := resolver.New(client, resolver.Options{
		Endpoints: resolver.Endpoints{
			GitHubAPI: cfg.Endpoints.GitHubAPI,
			GitHubWeb: cfg.Endpoints.GitHubWeb,
			GitLabAPI: cfg.Endpoints.GitLabAPI,
			GitLabWeb: cfg.Endpoints.GitLabWeb,
		},
		GitHubToken:     cfg.GitHubToken,
		GitLabToken:     cfg.GitLabToken,
		CacheTTL:        cfg.Resolver.CacheTTL.Duration,
		MetadataTimeout: cfg.Resolver.MetadataTimeout.Duration,
		ScrapeTimeout:   cfg.Resolver.ScrapeTimeout.Duration,
	})
	inst := installer.New(client, installer.Config{
		InstallRoot:     cfg.InstallRoot,
		ScratchDir:      cfg.ScratchDir,
		DownloadTimeout: cfg.Resolver.DownloadTimeout.Duration,
	})

	orch := orchestrator.New(res, inst, scanner.NewFileSystemScanner(), reg, orchestrator.Options{
		InstallRoot: cfg.InstallRoot,
		Concurrency: cfg.Resolver.Concurrency,
	})

	return &app{cfg: cfg, registry: reg, orch: orch}, nil
}

func (a *app) Close() {
	if err := a.registry.Close(); err != nil {
		logrus.Warnf("Failed to close registry: %v", err)
	}
}

// withApp runs fn with a wired app, closing it afterwards
func withApp(ctx context.Context, configPath string, fn func(a *app) error) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
