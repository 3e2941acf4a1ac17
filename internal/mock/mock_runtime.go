package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/internal/symbol"
)

// MockLoader is a mock guest class loader. Use it by pointer; loaders are
// compared by identity.
type MockLoader struct {
	mock.Mock
	Name string
}

// LoaderName returns Name without recording a call.
func (m *MockLoader) LoaderName() string {
	return m.Name
}

// LoadClass mocks the LoadClass method.
func (m *MockLoader) LoadClass(ctx context.Context, name *symbol.Type, resolve bool) (runtime.Klass, error) {
	args := m.Called(ctx, name, resolve)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(runtime.Klass), args.Error(1)
}

// MockInitializer is a mock implementation of the runtime.Initializer
// interface.
type MockInitializer struct {
	mock.Mock
}

// RunClassInitializer mocks the RunClassInitializer method.
func (m *MockInitializer) RunClassInitializer(ctx context.Context, k *runtime.ObjectKlass, clinit *runtime.Method) error {
	args := m.Called(ctx, k, clinit)
	return args.Error(0)
}

// MockBinder is a mock implementation of the runtime.Binder interface.
type MockBinder struct {
	mock.Mock
}

// Bind mocks the Bind method.
func (m *MockBinder) Bind(method *runtime.Method, code *classfile.ParsedMethod) (runtime.Body, error) {
	args := m.Called(method, code)
	return args.Get(0), args.Error(1)
}
