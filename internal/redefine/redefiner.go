package redefine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/registry"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
	"github.com/klasslink/pkg/parallel"
	"github.com/klasslink/pkg/telemetry"
	"github.com/klasslink/pkg/utils"
)

// ClassDefinition is new bytes for a class. An empty Name is taken from
// the bytes.
type ClassDefinition struct {
	Name  string
	Bytes []byte
}

// Outcome is what a request did, or would have done, to one loaded class.
type Outcome struct {
	Class   string
	Change  ClassChange
	Status  Status
	Reason  string
	Methods []string
	Version int
}

// Result answers a redefinition request. Nothing was changed unless
// Status is StatusSuccess.
type Result struct {
	Status  Status
	Classes []Outcome
	// Renamed maps compiler-assigned names of anonymous classes to the
	// names they were installed under.
	Renamed map[string]string
	// Added are classes of the request that are not loaded yet, with
	// their bytes already renamed. Defining them is up to their loader.
	Added []ClassDefinition
	// Removed are loaded anonymous classes the new version no longer has.
	Removed []string
}

// Event is one redefinition attempt of one class.
type Event struct {
	Class   string
	Loader  string
	Change  ClassChange
	Status  Status
	Version int
	Reason  string
	At      time.Time
}

// EventRecorder keeps a history of redefinition attempts.
type EventRecorder interface {
	RecordRedefinition(ctx context.Context, e Event) error
}

// Options configures a Redefiner.
type Options struct {
	Capability Capability
	Cache      *FingerprintCache
	Events     EventRecorder
	Logger     utils.Logger
	// Clock stamps recorded events. Defaults to the wall clock.
	Clock utils.Clock
	// Workers bounds how many classes of a request are parsed at once.
	Workers int
}

// Redefiner applies redefinition requests to the classes of a set of
// registries. Requests are handled one at a time.
type Redefiner struct {
	registries *registry.Registries
	cache      *FingerprintCache
	events     EventRecorder
	logger     utils.Logger
	clock      utils.Clock
	workers    int

	mu         sync.Mutex
	capability Capability
}

// New creates a redefiner for the classes of registries.
func New(registries *registry.Registries, opts Options) *Redefiner {
	r := &Redefiner{
		registries: registries,
		cache:      opts.Cache,
		events:     opts.Events,
		logger:     utils.OrNull(opts.Logger),
		clock:      opts.Clock,
		workers:    opts.Workers,
		capability: opts.Capability,
	}
	if r.clock == nil {
		r.clock = utils.NewRealClock()
	}
	if r.cache == nil {
		r.cache = NewFingerprintCache(nil, r.logger)
	}
	if r.workers < 1 {
		r.workers = parallel.DefaultPoolConfig().MaxWorkers
	}
	return r
}

// Cache returns the fingerprint cache.
func (r *Redefiner) Cache() *FingerprintCache { return r.cache }

// Capability returns the current capability ceiling.
func (r *Redefiner) Capability() Capability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capability
}

// SetCapability changes the capability ceiling for later requests.
func (r *Redefiner) SetCapability(c Capability) {
	r.mu.Lock()
	r.capability = c
	r.mu.Unlock()
}

// RedefineClass redefines one loaded class and returns the status code.
func (r *Redefiner) RedefineClass(ctx context.Context, k *runtime.ObjectKlass, data []byte) (Status, error) {
	res, err := r.RedefineClasses(ctx, k.Loader(), []ClassDefinition{{Name: k.Name().String(), Bytes: data}})
	if err != nil {
		return StatusSuccess, err
	}
	return res.Status, nil
}

type entry struct {
	original string
	name     string
	parsed   *classfile.ParsedClass
	klass    *runtime.ObjectKlass
	diff     *Diff
	outcome  int
}

// RedefineClasses redefines the classes of one loader together. Either
// every loaded class is redefined or none is: a change exceeding the
// capability ceiling declines the request, and a failure while linking the
// new versions or their subtypes leaves every class as it was. A declined
// request is not an error; the error result is reserved for failures that
// leave the request unanswered.
func (r *Redefiner) RedefineClasses(ctx context.Context, loader runtime.Loader, defs []ClassDefinition) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, "redefine.classes", trace.WithAttributes(
		attribute.Int("classes", len(defs)),
		attribute.String("loader", runtime.LoaderName(loader)),
		attribute.String("capability", r.capability.String()),
	))
	defer span.End()

	res, err := r.redefine(ctx, loader, defs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("status", int(res.Status)))
	return res, nil
}

func (r *Redefiner) redefine(ctx context.Context, loader runtime.Loader, defs []ClassDefinition) (*Result, error) {
	log := r.logger.WithField("loader", runtime.LoaderName(loader))
	res := &Result{Renamed: make(map[string]string)}

	entries, invalid, err := r.parseAll(ctx, defs)
	if err == nil && invalid == nil {
		invalid, err = r.renameAnonymous(ctx, loader, entries, res)
	}
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		log.Warn("redefinition of %s declined: %s", invalid.Class, invalid.Reason)
		res.Status = StatusInvalidClassFormat
		res.Classes = append(res.Classes, *invalid)
		r.record(ctx, loader, res)
		return res, nil
	}

	var loaded []*entry
	for _, e := range entries {
		e.klass = r.lookup(e.name, loader)
		if e.klass == nil {
			res.Added = append(res.Added, ClassDefinition{Name: e.name, Bytes: e.parsed.Bytes})
			continue
		}
		e.diff = DetectChanges(e.klass.Parsed(), e.parsed)
		status := r.capability.Check(e.diff.Change)
		e.outcome = len(res.Classes)
		res.Classes = append(res.Classes, Outcome{
			Class:   e.name,
			Change:  e.diff.Change,
			Status:  status,
			Reason:  e.diff.Reason,
			Methods: e.diff.ChangedMethods(),
			Version: e.klass.VersionNumber(),
		})
		if status != StatusSuccess && res.Status == StatusSuccess {
			res.Status = status
		}
		loaded = append(loaded, e)
	}

	if res.Status != StatusSuccess {
		for _, o := range res.Classes {
			if o.Status != StatusSuccess {
				log.Warn("redefinition of %s declined: %s: %s", o.Class, o.Status, o.Reason)
			}
		}
		r.record(ctx, loader, res)
		return res, nil
	}

	if err := r.apply(loaded, res); err != nil {
		return nil, err
	}
	r.remember(ctx, loader, entries)
	r.record(ctx, loader, res)
	log.Info("redefined %d classes (%d renamed, %d added, %d removed)",
		len(loaded), len(res.Renamed), len(res.Added), len(res.Removed))
	return res, nil
}

func invalidOutcome(class string, err error) *Outcome {
	return &Outcome{
		Class:  class,
		Change: InvalidClassFormat,
		Status: StatusInvalidClassFormat,
		Reason: err.Error(),
	}
}

// parseAll parses every definition in parallel. Bytes that do not parse
// yield an outcome rather than an error.
func (r *Redefiner) parseAll(ctx context.Context, defs []ClassDefinition) ([]*entry, *Outcome, error) {
	symbols := r.registries.Env().Symbols
	entries := make([]*entry, len(defs))
	failures := make([]error, len(defs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, def := range defs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			parsed, err := classfile.Parse(def.Bytes, symbols, def.Name)
			if err != nil {
				if !apperrors.IsInvalidClassFormat(err) {
					return err
				}
				failures[i] = err
				return nil
			}
			name := parsed.Name.String()
			entries[i] = &entry{original: name, name: name, parsed: parsed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if failures[i] != nil {
			return nil, invalidOutcome(defs[i].Name, failures[i]), nil
		}
		if seen[e.name] {
			return nil, invalidOutcome(e.name, apperrors.InvalidClassFormat(e.name, "class appears twice in one redefinition")), nil
		}
		seen[e.name] = true
	}
	return entries, nil, nil
}

// renameAnonymous matches the anonymous classes of the request against
// the installed ones and patches the bytes of every class in the request
// so that matched classes keep their installed names.
func (r *Redefiner) renameAnonymous(ctx context.Context, loader runtime.Loader, entries []*entry, res *Result) (*Outcome, error) {
	groups := make(map[string][]*ClassInfo)
	var outers []string
	for _, e := range entries {
		outer, ok := OutermostClass(e.name)
		if !ok {
			continue
		}
		if _, seen := groups[outer]; !seen {
			outers = append(outers, outer)
		}
		groups[outer] = append(groups[outer], NewClassInfo(e.parsed))
	}

	rules := make(Rules)
	for _, outer := range outers {
		old, err := r.installed(ctx, loader, outer)
		if err != nil {
			return nil, err
		}
		m := Match(old, BuildTree(outer, groups[outer]))
		for from, to := range m.Rules {
			rules[from] = to
		}
		for _, info := range m.Removed {
			res.Removed = append(res.Removed, info.Name)
		}
	}
	if len(rules) == 0 {
		return nil, nil
	}

	symbols := r.registries.Env().Symbols
	for _, e := range entries {
		patched, n, err := rules.Patch(e.parsed.Bytes)
		if err != nil {
			return invalidOutcome(e.name, err), nil
		}
		if n == 0 {
			continue
		}
		name := rules.Rename(e.original)
		parsed, err := classfile.Parse(patched, symbols, name)
		if err != nil {
			return invalidOutcome(name, err), nil
		}
		e.parsed, e.name = parsed, name
		if name != e.original {
			res.Renamed[e.original] = name
		}
		r.logger.Debug("patched %d constants of %s", n, name)
	}
	return nil, nil
}

// installed returns the fingerprints of the anonymous classes of outer as
// last installed: from the cache, or else from the loaded classes.
func (r *Redefiner) installed(ctx context.Context, loader runtime.Loader, outer string) ([]*ClassInfo, error) {
	infos, ok, err := r.cache.Get(ctx, loader, outer)
	if err != nil {
		return nil, err
	}
	if ok {
		return infos, nil
	}
	var flat []*ClassInfo
	for _, k := range r.registries.LoadedClasses() {
		obj, isObject := k.(*runtime.ObjectKlass)
		if !isObject || obj.Loader() != loader {
			continue
		}
		if o, anon := OutermostClass(obj.Name().String()); anon && o == outer {
			flat = append(flat, NewClassInfo(obj.Parsed()))
		}
	}
	return BuildTree(outer, flat), nil
}

func (r *Redefiner) lookup(name string, loader runtime.Loader) *runtime.ObjectKlass {
	t := r.registries.Env().Symbols.Type(symbol.TypeFromName(name))
	k, _ := r.registries.FindLoaded(t, loader).(*runtime.ObjectKlass)
	return k
}

// apply installs the changed classes as one batch: either all of them and
// their relinked subtypes are published, or none is.
func (r *Redefiner) apply(loaded []*entry, res *Result) error {
	var defs []runtime.Redefinition
	var changed []*entry
	for _, e := range loaded {
		if e.diff.Change == NoChange {
			continue
		}
		defs = append(defs, runtime.Redefinition{Klass: e.klass, Parsed: e.parsed})
		changed = append(changed, e)
	}
	if len(defs) == 0 {
		return nil
	}
	if err := r.registries.Env().RedefineClasses(defs); err != nil {
		return err
	}
	for _, e := range changed {
		res.Classes[e.outcome].Version = e.klass.VersionNumber()
	}
	return nil
}

// remember caches the fingerprints of the anonymous classes just
// installed. A failure to persist them is logged only.
func (r *Redefiner) remember(ctx context.Context, loader runtime.Loader, entries []*entry) {
	groups := make(map[string][]*ClassInfo)
	var outers []string
	for _, e := range entries {
		outer, ok := OutermostClass(e.name)
		if !ok {
			continue
		}
		if _, seen := groups[outer]; !seen {
			outers = append(outers, outer)
		}
		groups[outer] = append(groups[outer], NewClassInfo(e.parsed))
	}
	for _, outer := range outers {
		if err := r.cache.Put(ctx, loader, outer, BuildTree(outer, groups[outer])); err != nil {
			r.logger.Warn("failed to persist fingerprints of %s: %v", outer, err)
		}
	}
}

func (r *Redefiner) record(ctx context.Context, loader runtime.Loader, res *Result) {
	if r.events == nil {
		return
	}
	now := r.clock.Now()
	for _, o := range res.Classes {
		err := r.events.RecordRedefinition(ctx, Event{
			Class:   o.Class,
			Loader:  runtime.LoaderName(loader),
			Change:  o.Change,
			Status:  o.Status,
			Version: o.Version,
			Reason:  o.Reason,
			At:      now,
		})
		if err != nil {
			r.logger.Warn("failed to record redefinition of %s: %v", o.Class, err)
		}
	}
}
