package registry

import (
	"context"

	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
)

type definingKey struct{}

// defining is one class whose supertypes are being resolved. The chain of
// them travels in the context, so a class reached again while its own
// supertypes are resolved is a circularity rather than a deadlock.
type defining struct {
	name   *symbol.Name
	loader runtime.Loader
	parent *defining
}

func enterDefinition(ctx context.Context, name *symbol.Name, loader runtime.Loader) (context.Context, error) {
	parent, _ := ctx.Value(definingKey{}).(*defining)
	for d := parent; d != nil; d = d.parent {
		if d.name == name && d.loader == loader {
			return ctx, apperrors.Newf(apperrors.CodeClassCircularity, "%s (loader %s): class circularity", name, runtime.LoaderName(loader))
		}
	}
	return context.WithValue(ctx, definingKey{}, &defining{name: name, loader: loader, parent: parent}), nil
}
