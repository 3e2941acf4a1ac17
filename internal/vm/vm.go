// Package vm assembles one VM context from configuration: the symbol table,
// the class registries with their loading constraints, the bootstrap class
// path and the redefiner with its fingerprint cache.
package vm

import (
	"context"
	"fmt"

	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/registry"
	"github.com/klasslink/internal/repository"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/storage"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/config"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/filter"
	"github.com/klasslink/pkg/utils"
)

// Options overrides parts of a context that are not described by the
// configuration.
type Options struct {
	Logger utils.Logger
	// ClassPath replaces the class path built from cfg.ClassPath.
	ClassPath   registry.ClassSource
	Filter      *filter.ClassFilter
	Initializer runtime.Initializer
	Binder      runtime.Binder
	// Timer records the setup phases. Nil records nothing.
	Timer *utils.Timer
}

// Context is one VM context. Everything it owns lives as long as the
// context.
type Context struct {
	config     *config.Config
	logger     utils.Logger
	symbols    *symbol.Table
	env        *runtime.Env
	registries *registry.Registries
	redefiner  *redefine.Redefiner
	repos      *repository.Repositories
	source     registry.ClassSource
}

// ClassLister is implemented by class sources that can enumerate their
// classes.
type ClassLister interface {
	Classes(ctx context.Context) ([]string, error)
}

// New creates a VM context and preloads the classes cfg names.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		l, err := utils.NewLogger(cfg.Log.Level, cfg.Log.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
	}

	c := &Context{config: cfg, logger: logger}
	timer := opts.Timer

	source := opts.ClassPath
	if source == nil {
		phase := timer.Start("class path")
		cp, err := storage.FromConfig(&cfg.ClassPath, logger)
		phase.Stop()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize class path: %w", err)
		}
		source = cp
	}
	c.source = source

	capability, err := redefine.ParseCapability(cfg.Redefinition.Capability)
	if err != nil {
		return nil, err
	}

	timer.TimeFunc("registries", func() {
		c.symbols = symbol.NewTable()
		c.env = runtime.NewEnv(c.symbols, logger)
		c.env.Initializer = opts.Initializer
		c.env.Binder = opts.Binder
		c.registries = registry.New(c.env, registry.Options{
			ClassPath:      source,
			Logger:         logger,
			PreloadWorkers: cfg.Registry.PreloadWorkers,
			Filter:         opts.Filter,
		})
	})

	redefOpts := redefine.Options{
		Capability: capability,
		Logger:     logger,
		Workers:    cfg.Registry.PreloadWorkers,
	}
	if cfg.Redefinition.PersistFingerprints {
		if _, err := timer.TimeFuncWithError("repositories", func() error { return c.initRepositories(ctx) }); err != nil {
			return nil, err
		}
		redefOpts.Cache = redefine.NewFingerprintCache(c.repos.Fingerprints, logger)
		redefOpts.Events = c.repos.Events
	}
	c.redefiner = redefine.New(c.registries, redefOpts)

	if len(cfg.Registry.Preload) > 0 {
		phase := timer.Start("preload")
		_, err := c.registries.Preload(ctx, cfg.Registry.Preload, nil)
		phase.Stop()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to preload classes: %w", err)
		}
	}

	logger.Info("VM context ready (capability %s, persist fingerprints %v)", capability, cfg.Redefinition.PersistFingerprints)
	return c, nil
}

func (c *Context) initRepositories(ctx context.Context) error {
	c.logger.Info("Connecting to database (%s)...", c.config.Database.Type)

	repos, err := repository.Open(&c.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := repos.Migrate(ctx); err != nil {
		repos.Close()
		return err
	}
	c.repos = repos
	c.logger.Info("Database connection established")
	return nil
}

// Config returns the configuration the context was built from.
func (c *Context) Config() *config.Config { return c.config }

// Logger returns the context logger.
func (c *Context) Logger() utils.Logger { return c.logger }

// Symbols returns the symbol table.
func (c *Context) Symbols() *symbol.Table { return c.symbols }

// Env returns the runtime environment.
func (c *Context) Env() *runtime.Env { return c.env }

// Registries returns the class registries.
func (c *Context) Registries() *registry.Registries { return c.registries }

// Redefiner returns the redefiner.
func (c *Context) Redefiner() *redefine.Redefiner { return c.redefiner }

// Repositories returns the database repositories, or nil when fingerprints
// are not persisted.
func (c *Context) Repositories() *repository.Repositories { return c.repos }

// Load resolves name in loader, failing when the class does not exist.
func (c *Context) Load(ctx context.Context, name string, loader runtime.Loader) (runtime.Klass, error) {
	k, err := c.registries.ResolveName(ctx, name, loader)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "%s (loader %s): class not found", name, runtime.LoaderName(loader))
	}
	return k, nil
}

// ClassNames lists every class on the bootstrap class path.
func (c *Context) ClassNames(ctx context.Context) ([]string, error) {
	lister, ok := c.source.(ClassLister)
	if !ok {
		return nil, apperrors.New(apperrors.CodeConfigError, "class path cannot list its classes")
	}
	return lister.Classes(ctx)
}

// Close releases the database connection, if any.
func (c *Context) Close() error {
	if c.repos == nil {
		return nil
	}
	err := c.repos.Close()
	c.repos = nil
	return err
}
