package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/converge/pkg/build"
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/journal"
	"github.com/openfroyo/converge/pkg/policy"
	"github.com/openfroyo/converge/pkg/provider"
	awsprovider "github.com/openfroyo/converge/pkg/provider/aws"
	"github.com/openfroyo/converge/pkg/provider/memory"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// defaultConfigFiles are tried in order when --config is not given.
var defaultConfigFiles = []string{"converge.yaml", "converge.yml", "converge.cue", "converge.star"}

// memoryFactory serves one in-process provider to every client.
type memoryFactory struct {
	p *memory.Provider
}

func (f memoryFactory) NewClient(context.Context, string) (*provider.Client, error) {
	return f.p.Client(), nil
}

// session is everything one command needs, built from the global flags.
type session struct {
	opts       *globalOptions
	configPath string
	cfg        *config.DeploymentConfig
	tel        *telemetry.Telemetry
	client     *provider.Client
	journal    *journal.SQLiteJournal
	guard      *policy.Engine

	stopMetrics context.CancelFunc
}

// sessionNeeds selects the parts of a session a command uses.
type sessionNeeds struct {
	client  bool
	journal bool
	guard   bool
}

func (o *globalOptions) resolveConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	for _, name := range defaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no config file found (tried %v); use --config", defaultConfigFiles)
}

func (o *globalOptions) telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if o.version != "" {
		cfg.ServiceVersion = o.version
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Metrics.ListenAddress = o.metricsListen
	return cfg
}

func (o *globalOptions) providerFactory(cfg *config.DeploymentConfig) (provider.Factory, error) {
	if o.factory != nil {
		return o.factory, nil
	}
	switch o.providerName {
	case providerAWS, "":
		return awsprovider.Factory{Endpoint: cfg.Endpoint, Profile: o.profile}, nil
	case providerMemory:
		return memoryFactory{p: memory.New(cfg.Region, memory.Options{})}, nil
	}
	return nil, fmt.Errorf("unknown provider %q (want %s or %s)", o.providerName, providerAWS, providerMemory)
}

// openSession loads and validates the configuration and builds the
// requested collaborators. Callers must Close the session.
func (o *globalOptions) openSession(ctx context.Context, needs sessionNeeds) (*session, error) {
	path, err := o.resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(o.telemetryConfig())
	if err != nil {
		return nil, err
	}
	s := &session{opts: o, configPath: path, cfg: cfg, tel: tel}

	metricsCtx, cancel := context.WithCancel(ctx)
	s.stopMetrics = cancel
	tel.Metrics.Serve(metricsCtx, tel.Logger)

	if needs.client {
		if s.client, err = o.newClient(ctx, cfg); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	if needs.journal && !o.noJournal {
		if s.journal, err = journal.Open(ctx, journal.Config{Path: o.journalFile(cfg)}); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	if needs.guard {
		if s.guard, err = o.newGuard(ctx, tel.Logger); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

func (o *globalOptions) newClient(ctx context.Context, cfg *config.DeploymentConfig) (*provider.Client, error) {
	factory, err := o.providerFactory(cfg)
	if err != nil {
		return nil, err
	}
	return factory.NewClient(ctx, cfg.Region)
}

func (o *globalOptions) newGuard(ctx context.Context, logger *telemetry.Logger) (*policy.Engine, error) {
	guard, err := policy.NewEngine(ctx, logger)
	if err != nil {
		return nil, err
	}
	if len(o.policyPaths) > 0 {
		if err := guard.LoadPolicies(ctx, o.policyPaths); err != nil {
			return nil, err
		}
	}
	return guard, nil
}

// reload re-reads the config file and the guardrail policies. The client
// is rebuilt when the region or endpoint changed. The journal and the
// telemetry stay as opened. On error the session is left unchanged.
func (s *session) reload(ctx context.Context) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}

	client := s.client
	if client != nil && (cfg.Region != s.cfg.Region || cfg.Endpoint != s.cfg.Endpoint) {
		if client, err = s.opts.newClient(ctx, cfg); err != nil {
			return err
		}
	}

	guard := s.guard
	if guard != nil {
		if guard, err = s.opts.newGuard(ctx, s.tel.Logger); err != nil {
			return err
		}
	}

	s.cfg, s.client, s.guard = cfg, client, guard
	return nil
}

func (o *globalOptions) journalFile(cfg *config.DeploymentConfig) string {
	if o.journalPath != "" {
		return o.journalPath
	}
	return filepath.Join(cfg.ArtifactDir(), "journal.db")
}

// journalFiles lists the database file and the files SQLite keeps beside it.
func journalFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm", path + "-journal"}
}

func (s *session) builder() build.Builder {
	return &build.LocalBuilder{
		CodePath:       s.cfg.Resolve(s.cfg.CodePath),
		SourcePath:     s.cfg.Resolve(s.cfg.SourcePath),
		ManifestPath:   s.cfg.Resolve(s.cfg.ManifestPath),
		OutputDir:      s.cfg.ArtifactDir(),
		Exclude:        journalFiles(s.opts.journalFile(s.cfg)),
		InstallCommand: s.cfg.InstallCommand,
		Runner:         build.ExecRunner{},
		Logger:         s.tel.Logger.NewComponentLogger("build"),
	}
}

func (s *session) reconciler() (*engine.Reconciler, error) {
	opts := engine.Options{
		Client:    s.client,
		Builder:   s.builder(),
		Telemetry: s.tel,
	}
	if s.guard != nil {
		opts.Guard = s.guard
	}
	if s.journal != nil {
		opts.Journal = s.journal
	}
	return engine.NewReconciler(s.cfg, opts)
}

// Close releases the session. It is safe on a partially built session.
func (s *session) Close(ctx context.Context) {
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.stopMetrics != nil {
		s.stopMetrics()
	}
	errs = append(errs, s.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		s.tel.Logger.WithError(err).Warn("failed to close session cleanly")
	}
}
