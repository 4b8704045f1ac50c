// Code generated by MockGen. DO NOT EDIT.
// Source: imagedex/internal/storage (interfaces: JobStore)
//
// Generated by this command:
//
//	mockgen -destination=mocks/mock_job_store.go -package=mocks imagedex/internal/storage JobStore
//

// Package mocks is a generated GoMock package.
package mocks

import (
	context "context"
	storage "imagedex/internal/storage"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockJobStore is a mock of JobStore interface.
type MockJobStore struct {
	ctrl     *gomock.Controller
	recorder *MockJobStoreMockRecorder
}

// MockJobStoreMockRecorder is the mock recorder for MockJobStore.
type MockJobStoreMockRecorder struct {
	mock *MockJobStore
}

// NewMockJobStore creates a new mock instance.
func NewMockJobStore(ctrl *gomock.Controller) *MockJobStore {
	mock := &MockJobStore{ctrl: ctrl}
	mock.recorder = &MockJobStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockJobStore) EXPECT() *MockJobStoreMockRecorder {
	return m.recorder
}

// Claim mocks base method.
func (m *MockJobStore) Claim(arg0 context.Context, arg1, arg2 string, arg3 int) ([]storage.ClaimedJob, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Claim", arg0, arg1, arg2, arg3)
	ret0, _ := ret[0].([]storage.ClaimedJob)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Claim indicates an expected call of Claim.
func (mr *MockJobStoreMockRecorder) Claim(arg0, arg1, arg2, arg3 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Claim", reflect.TypeOf((*MockJobStore)(nil).Claim), arg0, arg1, arg2, arg3)
}

// Ensure mocks base method.
func (m *MockJobStore) Ensure(arg0 context.Context, arg1 int64, arg2, arg3 string, arg4 bool) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Ensure", arg0, arg1, arg2, arg3, arg4)
	ret0, _ := ret[0].(error)
	return ret0
}

// Ensure indicates an expected call of Ensure.
func (mr *MockJobStoreMockRecorder) Ensure(arg0, arg1, arg2, arg3, arg4 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Ensure", reflect.TypeOf((*MockJobStore)(nil).Ensure), arg0, arg1, arg2, arg3, arg4)
}

// Get mocks base method.
func (m *MockJobStore) Get(arg0 context.Context, arg1 int64, arg2 string) (*storage.JobRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", arg0, arg1, arg2)
	ret0, _ := ret[0].(*storage.JobRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Get indicates an expected call of Get.
func (mr *MockJobStoreMockRecorder) Get(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockJobStore)(nil).Get), arg0, arg1, arg2)
}

// MarkError mocks base method.
func (m *MockJobStore) MarkError(arg0 context.Context, arg1 int64, arg2, arg3 string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MarkError", arg0, arg1, arg2, arg3)
	ret0, _ := ret[0].(error)
	return ret0
}

// MarkError indicates an expected call of MarkError.
func (mr *MockJobStoreMockRecorder) MarkError(arg0, arg1, arg2, arg3 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MarkError", reflect.TypeOf((*MockJobStore)(nil).MarkError), arg0, arg1, arg2, arg3)
}

// MarkReady mocks base method.
func (m *MockJobStore) MarkReady(arg0 context.Context, arg1 int64, arg2 string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MarkReady", arg0, arg1, arg2)
	ret0, _ := ret[0].(error)
	return ret0
}

// MarkReady indicates an expected call of MarkReady.
func (mr *MockJobStoreMockRecorder) MarkReady(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MarkReady", reflect.TypeOf((*MockJobStore)(nil).MarkReady), arg0, arg1, arg2)
}

// MarkSkipped mocks base method.
func (m *MockJobStore) MarkSkipped(arg0 context.Context, arg1 int64, arg2 string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MarkSkipped", arg0, arg1, arg2)
	ret0, _ := ret[0].(error)
	return ret0
}

// MarkSkipped indicates an expected call of MarkSkipped.
func (mr *MockJobStoreMockRecorder) MarkSkipped(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MarkSkipped", reflect.TypeOf((*MockJobStore)(nil).MarkSkipped), arg0, arg1, arg2)
}

// Progress mocks base method.
func (m *MockJobStore) Progress(arg0 context.Context, arg1 string) (storage.ProgressCounts, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Progress", arg0, arg1)
	ret0, _ := ret[0].(storage.ProgressCounts)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Progress indicates an expected call of Progress.
func (mr *MockJobStoreMockRecorder) Progress(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Progress", reflect.TypeOf((*MockJobStore)(nil).Progress), arg0, arg1)
}

// PurgeVectors mocks base method.
func (m *MockJobStore) PurgeVectors(arg0 context.Context, arg1 string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "PurgeVectors", arg0, arg1)
	ret0, _ := ret[0].(error)
	return ret0
}

// PurgeVectors indicates an expected call of PurgeVectors.
func (mr *MockJobStoreMockRecorder) PurgeVectors(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PurgeVectors", reflect.TypeOf((*MockJobStore)(nil).PurgeVectors), arg0, arg1)
}

// ReadyVectors mocks base method.
func (m *MockJobStore) ReadyVectors(arg0 context.Context, arg1 string, arg2 func(int64, []byte) error) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReadyVectors", arg0, arg1, arg2)
	ret0, _ := ret[0].(error)
	return ret0
}

// ReadyVectors indicates an expected call of ReadyVectors.
func (mr *MockJobStoreMockRecorder) ReadyVectors(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReadyVectors", reflect.TypeOf((*MockJobStore)(nil).ReadyVectors), arg0, arg1, arg2)
}

// ResetStuck mocks base method.
func (m *MockJobStore) ResetStuck(arg0 context.Context, arg1 string) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ResetStuck", arg0, arg1)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ResetStuck indicates an expected call of ResetStuck.
func (mr *MockJobStoreMockRecorder) ResetStuck(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ResetStuck", reflect.TypeOf((*MockJobStore)(nil).ResetStuck), arg0, arg1)
}

// StoreVector mocks base method.
func (m *MockJobStore) StoreVector(arg0 context.Context, arg1 int64, arg2 string, arg3 []byte) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "StoreVector", arg0, arg1, arg2, arg3)
	ret0, _ := ret[0].(error)
	return ret0
}

// StoreVector indicates an expected call of StoreVector.
func (mr *MockJobStoreMockRecorder) StoreVector(arg0, arg1, arg2, arg3 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "StoreVector", reflect.TypeOf((*MockJobStore)(nil).StoreVector), arg0, arg1, arg2, arg3)
}

// Vector mocks base method.
func (m *MockJobStore) Vector(arg0 context.Context, arg1 int64, arg2 string) ([]byte, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Vector", arg0, arg1, arg2)
	ret0, _ := ret[0].([]byte)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Vector indicates an expected call of Vector.
func (mr *MockJobStoreMockRecorder) Vector(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Vector", reflect.TypeOf((*MockJobStore)(nil).Vector), arg0, arg1, arg2)
}
