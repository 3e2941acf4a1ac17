package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/klasslink/internal/redefine"
)

// MockFingerprintStore is a mock implementation of the redefine.Store
// interface.
type MockFingerprintStore struct {
	mock.Mock
}

// SaveFingerprints mocks the SaveFingerprints method.
func (m *MockFingerprintStore) SaveFingerprints(ctx context.Context, loader, outer string, infos []*redefine.ClassInfo) error {
	args := m.Called(ctx, loader, outer, infos)
	return args.Error(0)
}

// LoadFingerprints mocks the LoadFingerprints method.
func (m *MockFingerprintStore) LoadFingerprints(ctx context.Context, loader, outer string) ([]*redefine.ClassInfo, bool, error) {
	args := m.Called(ctx, loader, outer)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*redefine.ClassInfo), args.Bool(1), args.Error(2)
}

// DeleteFingerprints mocks the DeleteFingerprints method.
func (m *MockFingerprintStore) DeleteFingerprints(ctx context.Context, loader string) error {
	args := m.Called(ctx, loader)
	return args.Error(0)
}

// ExpectLoadFingerprints sets up an expectation for LoadFingerprints.
func (m *MockFingerprintStore) ExpectLoadFingerprints(loader, outer string, infos []*redefine.ClassInfo, found bool, err error) *mock.Call {
	return m.On("LoadFingerprints", mock.Anything, loader, outer).Return(infos, found, err)
}

// ExpectSaveFingerprints sets up an expectation for SaveFingerprints.
func (m *MockFingerprintStore) ExpectSaveFingerprints(loader, outer string, err error) *mock.Call {
	return m.On("SaveFingerprints", mock.Anything, loader, outer, mock.Anything).Return(err)
}

// MockEventRecorder is a mock implementation of the redefine.EventRecorder
// interface.
type MockEventRecorder struct {
	mock.Mock
}

// RecordRedefinition mocks the RecordRedefinition method.
func (m *MockEventRecorder) RecordRedefinition(ctx context.Context, e redefine.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// Events returns the events recorded so far.
func (m *MockEventRecorder) Events() []redefine.Event {
	var events []redefine.Event
	for _, c := range m.Calls {
		if c.Method == "RecordRedefinition" {
			events = append(events, c.Arguments.Get(1).(redefine.Event))
		}
	}
	return events
}
