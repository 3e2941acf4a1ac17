// Package registry maps type names to klasses for each class loader and
// resolves names on demand. Primitive types come from a fixed table, array
// types are derived from their component, bootstrap classes are read from
// the class path and other loaders are asked through their guest LoadClass.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/constraints"
	"github.com/klasslink/internal/linker"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/filter"
	"github.com/klasslink/pkg/parallel"
	"github.com/klasslink/pkg/telemetry"
	"github.com/klasslink/pkg/utils"
)

// ClassSource supplies bootstrap class bytes. A missing class yields nil
// bytes and a nil error.
type ClassSource interface {
	ReadClass(ctx context.Context, name string) ([]byte, error)
}

// Options configures a Registries.
type Options struct {
	ClassPath      ClassSource
	Logger         utils.Logger
	PreloadWorkers int
	// Filter decides which packages are reserved for the bootstrap loader.
	Filter *filter.ClassFilter
}

// Registries holds the registry of every loader of one VM context. The
// bootstrap registry always exists; the others are created on first use.
type Registries struct {
	env         *runtime.Env
	source      ClassSource
	constraints *constraints.Table
	filter      *filter.ClassFilter
	logger      utils.Logger
	workers     int

	bootstrap *Registry
	loaders   sync.Map // runtime.Loader -> *Registry
}

// Registry is the class table of one loader. It holds every klass the
// loader has defined or initiated the loading of.
type Registry struct {
	loader  runtime.Loader
	classes sync.Map // *symbol.Type -> runtime.Klass
}

// New creates the registries for env and installs them as env's resolver
// and loading-constraint checker.
func New(env *runtime.Env, opts Options) *Registries {
	r := &Registries{
		env:     env,
		source:  opts.ClassPath,
		filter:  opts.Filter,
		logger:  utils.OrNull(opts.Logger),
		workers: opts.PreloadWorkers,
	}
	if r.filter == nil {
		r.filter = filter.DefaultFilter
	}
	if r.workers < 1 {
		r.workers = parallel.DefaultPoolConfig().MaxWorkers
	}
	r.constraints = constraints.New(r.FindLoaded, r.logger)
	r.bootstrap = &Registry{}
	for _, p := range env.Primitives() {
		r.bootstrap.classes.Store(p.Type(), runtime.Klass(p))
	}
	env.Resolver = r
	env.Constraints = r.constraints
	return r
}

// Env returns the environment the registries resolve into.
func (r *Registries) Env() *runtime.Env { return r.env }

// Constraints returns the loading-constraint table.
func (r *Registries) Constraints() *constraints.Table { return r.constraints }

// Registry returns the registry of loader, creating it on first use.
func (r *Registries) Registry(loader runtime.Loader) *Registry {
	if loader == nil {
		return r.bootstrap
	}
	if reg, ok := r.loaders.Load(loader); ok {
		return reg.(*Registry)
	}
	reg, _ := r.loaders.LoadOrStore(loader, &Registry{loader: loader})
	return reg.(*Registry)
}

func (r *Registries) peek(loader runtime.Loader) *Registry {
	if loader == nil {
		return r.bootstrap
	}
	if reg, ok := r.loaders.Load(loader); ok {
		return reg.(*Registry)
	}
	return nil
}

// FindLoaded returns the klass loader has already loaded for t, or nil.
// It never loads anything.
func (r *Registries) FindLoaded(t *symbol.Type, loader runtime.Loader) runtime.Klass {
	reg := r.peek(loader)
	if reg == nil {
		return nil
	}
	return reg.Find(t)
}

// Find returns the klass registered for t, or nil.
func (reg *Registry) Find(t *symbol.Type) runtime.Klass {
	if k, ok := reg.classes.Load(t); ok {
		return k.(runtime.Klass)
	}
	return nil
}

// Loader returns the loader owning the registry, nil for bootstrap.
func (reg *Registry) Loader() runtime.Loader { return reg.loader }

// Classes returns the registered klasses sorted by name.
func (reg *Registry) Classes() []runtime.Klass {
	var out []runtime.Klass
	reg.classes.Range(func(_, v any) bool {
		out = append(out, v.(runtime.Klass))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name().String() < out[j].Name().String() })
	return out
}

// Resolve returns the klass t denotes as seen from loader, loading it on
// first request. Every caller, concurrent or not, gets the same klass. A
// type that cannot be found yields a nil klass and a nil error.
func (r *Registries) Resolve(ctx context.Context, t *symbol.Type, loader runtime.Loader) (runtime.Klass, error) {
	if k := r.FindLoaded(t, loader); k != nil {
		return k, nil
	}
	desc := t.String()
	switch {
	case symbol.IsPrimitive(desc):
		return r.bootstrap.Find(t), nil
	case symbol.IsArray(desc):
		return r.resolveArray(ctx, t, loader)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "registry.resolve", trace.WithAttributes(
		attribute.String("class", desc),
		attribute.String("loader", runtime.LoaderName(loader)),
	))
	defer span.End()

	k, err := r.load(ctx, t, loader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", k != nil))
	return k, nil
}

// ResolveName resolves an internal class name or array descriptor.
func (r *Registries) ResolveName(ctx context.Context, name string, loader runtime.Loader) (runtime.Klass, error) {
	return r.Resolve(ctx, r.env.Symbols.Type(symbol.TypeFromName(name)), loader)
}

func (r *Registries) resolveArray(ctx context.Context, t *symbol.Type, loader runtime.Loader) (runtime.Klass, error) {
	component, err := r.Resolve(ctx, r.env.Symbols.Type(symbol.ComponentOf(t.String())), loader)
	if err != nil || component == nil {
		return nil, err
	}
	array, err := component.ArrayClass()
	if err != nil {
		return nil, err
	}
	actual, _ := r.Registry(loader).classes.LoadOrStore(t, runtime.Klass(array))
	return actual.(runtime.Klass), nil
}

func (r *Registries) load(ctx context.Context, t *symbol.Type, loader runtime.Loader) (runtime.Klass, error) {
	if loader != nil {
		return r.delegate(ctx, t, loader)
	}

	if symbol.IsPrimitive(t.String()) {
		apperrors.Internal("primitive type %s reached the class path", t)
	}
	name := symbol.NameFromType(t.String())
	if r.source == nil {
		return nil, nil
	}
	data, err := r.source.ReadClass(ctx, name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		r.logger.Debug("class %s not found on the class path", name)
		return nil, nil
	}
	parsed, err := r.parse(data, name)
	if err != nil {
		return nil, err
	}
	k, err := r.build(ctx, nil, parsed)
	if err != nil {
		return nil, err
	}
	return r.install(t, k, nil, false)
}

// delegate asks a guest loader for t and records the loader as an
// initiating loader of the result.
func (r *Registries) delegate(ctx context.Context, t *symbol.Type, loader runtime.Loader) (runtime.Klass, error) {
	k, err := loader.LoadClass(ctx, t, false)
	if err != nil || k == nil {
		return nil, err
	}
	if k.Type() != t {
		return nil, apperrors.Linkage(t.String(), runtime.LoaderName(loader), "loader returned %s", k)
	}
	actual, loaded, err := r.constraints.Install(t, k, loader, r.storeFunc(t, k, loader))
	if err != nil {
		return nil, err
	}
	if loaded && actual != k {
		return nil, apperrors.Linkage(t.String(), runtime.LoaderName(loader),
			"loader returned %s defined by %s, but %s defined by %s was loaded before",
			k, runtime.LoaderName(k.Loader()), actual, runtime.LoaderName(actual.Loader()))
	}
	return k, nil
}

// storeFunc inserts k into loader's registry if the name is still free.
func (r *Registries) storeFunc(t *symbol.Type, k runtime.Klass, loader runtime.Loader) constraints.StoreFunc {
	return func() (runtime.Klass, bool) {
		actual, loaded := r.Registry(loader).classes.LoadOrStore(t, k)
		return actual.(runtime.Klass), loaded
	}
}

// DefineClass defines a class from bytes on behalf of loader. name may be
// empty, in which case the name is taken from the bytes. Defining a name
// the loader already has a class for is a linkage error.
func (r *Registries) DefineClass(ctx context.Context, loader runtime.Loader, name string, data []byte) (*runtime.ObjectKlass, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "registry.define", trace.WithAttributes(
		attribute.String("class", name),
		attribute.String("loader", runtime.LoaderName(loader)),
	))
	defer span.End()

	k, err := r.defineClass(ctx, loader, name, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return k, nil
}

func (r *Registries) defineClass(ctx context.Context, loader runtime.Loader, name string, data []byte) (*runtime.ObjectKlass, error) {
	parsed, err := r.parse(data, name)
	if err != nil {
		return nil, err
	}
	name = parsed.Name.String()
	if loader != nil && r.filter.IsReserved(name) {
		return nil, apperrors.Linkage(name, runtime.LoaderName(loader), "prohibited package name: %s", symbol.PackageOf(name))
	}
	t := r.env.Symbols.Type(symbol.TypeFromName(name))
	if r.FindLoaded(t, loader) != nil {
		return nil, duplicate(name, loader)
	}
	k, err := r.build(ctx, loader, parsed)
	if err != nil {
		return nil, err
	}
	if _, err := r.install(t, k, loader, true); err != nil {
		return nil, err
	}
	return k, nil
}

func duplicate(name string, loader runtime.Loader) error {
	return apperrors.Linkage(name, runtime.LoaderName(loader), "attempted duplicate class definition")
}

func (r *Registries) parse(data []byte, name string) (*classfile.ParsedClass, error) {
	parsed, err := classfile.Parse(data, r.env.Symbols, name)
	if err != nil {
		r.logger.Warn("rejected class bytes for %s: %v", name, err)
		return nil, err
	}
	return parsed, nil
}

// build resolves the supertypes of parsed, links it and creates its klass.
// The klass is not yet visible to anyone.
func (r *Registries) build(ctx context.Context, loader runtime.Loader, parsed *classfile.ParsedClass) (*runtime.ObjectKlass, error) {
	ctx, err := enterDefinition(ctx, parsed.Name, loader)
	if err != nil {
		return nil, err
	}

	var super *runtime.ObjectKlass
	var superLinked *linker.LinkedKlass
	if parsed.SuperName != nil {
		super, err = r.resolveSupertype(ctx, parsed.SuperName, loader, parsed.Name)
		if err != nil {
			return nil, err
		}
		if super.IsInterface() {
			return nil, apperrors.IncompatibleClassChange(parsed.Name.String(), "class %s has interface %s as super class", parsed.Name, super.Name())
		}
		superLinked = super.Linked()
	}
	ifaces := make([]*runtime.ObjectKlass, len(parsed.InterfaceNames))
	ifaceLinked := make([]*linker.LinkedKlass, len(parsed.InterfaceNames))
	for i, n := range parsed.InterfaceNames {
		if ifaces[i], err = r.resolveSupertype(ctx, n, loader, parsed.Name); err != nil {
			return nil, err
		}
		if !ifaces[i].IsInterface() {
			return nil, apperrors.IncompatibleClassChange(parsed.Name.String(), "class %s can not implement %s, because it is not an interface", parsed.Name, n)
		}
		ifaceLinked[i] = ifaces[i].Linked()
	}

	linked, err := linker.Link(parsed, superLinked, ifaceLinked)
	if err != nil {
		return nil, err
	}
	return runtime.BuildObjectKlass(r.env, linked, super, ifaces, loader)
}

func (r *Registries) resolveSupertype(ctx context.Context, name *symbol.Name, loader runtime.Loader, sub *symbol.Name) (*runtime.ObjectKlass, error) {
	k, err := r.ResolveName(ctx, name.String(), loader)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, apperrors.Linkage(sub.String(), runtime.LoaderName(loader), "supertype %s not found", name)
	}
	ok, isObject := k.(*runtime.ObjectKlass)
	if !isObject {
		return nil, apperrors.IncompatibleClassChange(sub.String(), "supertype %s is not a class or interface", name)
	}
	return ok, nil
}

// install publishes k for t in loader's registry unless another klass got
// there first. For an explicit definition losing the race is a duplicate
// definition; for an on-demand load the winner is returned instead.
func (r *Registries) install(t *symbol.Type, k *runtime.ObjectKlass, loader runtime.Loader, explicit bool) (runtime.Klass, error) {
	actual, loaded, err := r.constraints.Install(t, k, loader, r.storeFunc(t, k, loader))
	if err != nil {
		return nil, err
	}
	if loaded {
		if explicit {
			return nil, duplicate(t.String(), loader)
		}
		r.logger.Debug("discarded duplicate load of %s", k)
		return actual, nil
	}
	k.Publish()
	return k, nil
}

// Preload resolves every name with a bounded worker pool and returns how
// many were loaded. A name that is not found is an error here.
func (r *Registries) Preload(ctx context.Context, names []string, loader runtime.Loader) (int64, error) {
	cfg := parallel.DefaultPoolConfig().WithWorkers(r.workers)
	n, err := parallel.ForEach(ctx, names, cfg, func(ctx context.Context, name string) error {
		k, err := r.ResolveName(ctx, name, loader)
		if err != nil {
			return err
		}
		if k == nil {
			return apperrors.Newf(apperrors.CodeNotFound, "%s (loader %s): class not found", name, runtime.LoaderName(loader))
		}
		return nil
	})
	r.logger.WithField("loader", runtime.LoaderName(loader)).Info("preloaded %d of %d classes", n, len(names))
	return n, err
}

// LoadedClasses returns every class defined by any loader, sorted by name
// and defining loader. Primitive and array types are left out, as are
// classes a loader only initiated the loading of.
func (r *Registries) LoadedClasses() []runtime.Klass {
	var out []runtime.Klass
	collect := func(reg *Registry) {
		reg.classes.Range(func(_, v any) bool {
			if k, ok := v.(*runtime.ObjectKlass); ok && k.Loader() == reg.loader {
				out = append(out, k)
			}
			return true
		})
	}
	collect(r.bootstrap)
	r.loaders.Range(func(_, v any) bool {
		collect(v.(*Registry))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Name().String(), out[j].Name().String()
		if a != b {
			return a < b
		}
		return runtime.LoaderName(out[i].Loader()) < runtime.LoaderName(out[j].Loader())
	})
	return out
}

// Loaders returns the non-bootstrap loaders that have a registry.
func (r *Registries) Loaders() []runtime.Loader {
	var out []runtime.Loader
	r.loaders.Range(func(k, _ any) bool {
		out = append(out, k.(runtime.Loader))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LoaderName() < out[j].LoaderName() })
	return out
}
