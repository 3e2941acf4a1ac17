package runtime

import (
	"context"
	"fmt"

	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
)

// State is the initialization state of an object class.
type State int32

const (
	StateLoaded State = iota
	StateLinked
	StatePrepared
	StateInitialized
	StateErroneous
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLinked:
		return "linked"
	case StatePrepared:
		return "prepared"
	case StateInitialized:
		return "initialized"
	case StateErroneous:
		return "erroneous"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Guest throwable classes raised by the state machine.
const (
	ExceptionInInitializerError = "java/lang/ExceptionInInitializerError"
	NoClassDefFoundError        = "java/lang/NoClassDefFoundError"
)

// GuestException is a guest throwable crossing the Go boundary. The
// executor returns one from RunClassInitializer when a class initializer
// throws.
type GuestException struct {
	// ClassName is the internal name of the throwable's class.
	ClassName string
	Message   string
	// IsError is set when the throwable is a java/lang/Error.
	IsError bool
	Cause   error
	// Value is the guest object, if the executor has one.
	Value any
}

func (e *GuestException) Error() string {
	name := DottedName(e.ClassName)
	if e.Message == "" {
		return name
	}
	return name + ": " + e.Message
}

func (e *GuestException) Unwrap() error { return e.Cause }

// Is matches apperrors.ErrInitialization so callers can test for
// initialization failures without knowing guest class names.
func (e *GuestException) Is(target error) bool {
	return target == error(apperrors.ErrInitialization)
}

// State returns the current initialization state.
func (k *ObjectKlass) State() State { return State(k.initState.Load()) }

// IsInitialized reports whether the class initializer has completed.
func (k *ObjectKlass) IsInitialized() bool { return k.State() == StateInitialized }

// IsErroneous reports whether initialization has failed for good.
func (k *ObjectKlass) IsErroneous() bool { return k.State() == StateErroneous }

type initToken struct{}

type initTokenKey struct{}

// initTokenFrom returns the token of the initialization chain running on
// ctx, if any.
func initTokenFrom(ctx context.Context) *initToken {
	t, _ := ctx.Value(initTokenKey{}).(*initToken)
	return t
}

func (k *ObjectKlass) noClassDef() error {
	return &GuestException{
		ClassName: NoClassDefFoundError,
		Message:   "Could not initialize class " + k.String(),
		IsError:   true,
	}
}

// Initialize runs the class initializer exactly once. Concurrent callers
// block until the initializing caller is done; a request from within the
// running initialization chain returns immediately. A failure moves the
// class to the erroneous state, and every later call fails with
// NoClassDefFoundError.
func (k *ObjectKlass) Initialize(ctx context.Context) error {
	switch k.State() {
	case StateInitialized:
		return nil
	case StateErroneous:
		return k.noClassDef()
	}

	token := initTokenFrom(ctx)

	k.initMu.Lock()
	for {
		switch k.State() {
		case StateInitialized:
			k.initMu.Unlock()
			return nil
		case StateErroneous:
			k.initMu.Unlock()
			return k.noClassDef()
		}
		if k.initOwner == nil {
			break
		}
		if token != nil && k.initOwner == token {
			k.initMu.Unlock()
			return nil
		}
		k.initCond.Wait()
	}
	if token == nil {
		token = &initToken{}
		ctx = context.WithValue(ctx, initTokenKey{}, token)
	}
	k.initOwner = token
	k.initMu.Unlock()

	err := k.runInitialization(ctx)

	k.initMu.Lock()
	if err != nil {
		k.initState.Store(int32(StateErroneous))
	} else {
		k.initState.Store(int32(StateInitialized))
	}
	k.initOwner = nil
	k.initCond.Broadcast()
	k.initMu.Unlock()

	logger := k.env.Logger.WithField("loader", LoaderName(k.loader))
	if err != nil {
		logger.Warn("initialization of %s failed: %v", k, err)
	} else {
		logger.Debug("initialized %s", k)
	}
	return err
}

func (k *ObjectKlass) runInitialization(ctx context.Context) error {
	if err := k.Prepare(ctx); err != nil {
		return err
	}
	if k.super != nil {
		if err := k.super.Initialize(ctx); err != nil {
			return err
		}
	}
	if !k.IsInterface() {
		if err := initializeSuperInterfaces(ctx, k.interfaces); err != nil {
			return err
		}
	}

	clinit := k.LookupDeclaredMethod(k.env.Symbols.Name(symbol.Clinit), k.env.Symbols.Signature("()V"))
	if clinit == nil || !clinit.IsStatic() {
		return nil
	}
	if k.env.Initializer == nil {
		return apperrors.Newf(apperrors.CodeInternal, "no initializer configured to run %s", clinit)
	}
	if err := k.env.Initializer.RunClassInitializer(ctx, k, clinit); err != nil {
		return wrapInitializerError(err)
	}
	return nil
}

// initializeSuperInterfaces walks ifaces depth first, superinterfaces
// before the interface naming them, and initializes every interface that
// declares a default method. Branches without defaults are skipped.
func initializeSuperInterfaces(ctx context.Context, ifaces []*ObjectKlass) error {
	for _, iface := range ifaces {
		if !iface.hasDefaults() {
			continue
		}
		if err := initializeSuperInterfaces(ctx, iface.interfaces); err != nil {
			return err
		}
		if !iface.declaresDefaults() {
			continue
		}
		if err := iface.Initialize(ctx); err != nil {
			return err
		}
	}
	return nil
}

// wrapInitializerError passes guest Errors through and wraps everything
// else in ExceptionInInitializerError.
func wrapInitializerError(err error) error {
	if g, ok := err.(*GuestException); ok && g.IsError {
		return g
	}
	return &GuestException{
		ClassName: ExceptionInInitializerError,
		IsError:   true,
		Cause:     err,
	}
}

// Prepare sets static fields from their ConstantValue attributes and checks
// the loading constraints implied by methods overriding or implementing
// methods of classes from other loaders. It runs once; a failed attempt is
// retried by the next call.
func (k *ObjectKlass) Prepare(ctx context.Context) error {
	_, err := k.prepared.Get(func() (bool, error) {
		v := k.current()
		if err := k.checkOverrideConstraints(ctx, v); err != nil {
			return false, err
		}
		statics := k.Statics()
		for _, f := range v.staticFields {
			p := f.linked.Parsed
			if p == nil || !p.HasConstantValue() {
				continue
			}
			if err := setConstant(statics, f, v.linked.Parsed.Pool, k.env.Symbols); err != nil {
				return false, apperrors.InvalidClassFormat(k.name.String(), "constant value of %s: %v", f.name, err)
			}
		}
		k.initState.CompareAndSwap(int32(StateLinked), int32(StatePrepared))
		return true, nil
	})
	return err
}

func (k *ObjectKlass) checkOverrideConstraints(ctx context.Context, v *version) error {
	checker := k.env.Constraints
	if checker == nil {
		return nil
	}
	for _, o := range v.overrides {
		l1, l2 := o.method.holder.loader, o.overridden.holder.loader
		if l1 == l2 {
			continue
		}
		for _, t := range referencedTypes(o.method.sig.String()) {
			if err := checker.CheckConstraint(ctx, k.env.Symbols.Type(t), l1, l2); err != nil {
				return err
			}
		}
	}
	return nil
}

// referencedTypes lists the class types named by a method descriptor, array
// types reduced to their element type.
func referencedTypes(sig string) []string {
	params, ret, err := symbol.ParseSignature(sig)
	if err != nil {
		return nil
	}
	var out []string
	for _, p := range append(params, ret) {
		if e := symbol.ElementalOf(p); symbol.IsReference(e) {
			out = append(out, e)
		}
	}
	return out
}
