// Code generated by MockGen. DO NOT EDIT.
// Source: imagedex/internal/storage (interfaces: ImageStore)
//
// Generated by this command:
//
//	mockgen -destination=mocks/mock_image_store.go -package=mocks imagedex/internal/storage ImageStore
//

// Package mocks is a generated GoMock package.
package mocks

import (
	context "context"
	storage "imagedex/internal/storage"
	tags "imagedex/internal/tags"
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockImageStore is a mock of ImageStore interface.
type MockImageStore struct {
	ctrl     *gomock.Controller
	recorder *MockImageStoreMockRecorder
}

// MockImageStoreMockRecorder is the mock recorder for MockImageStore.
type MockImageStoreMockRecorder struct {
	mock *MockImageStore
}

// NewMockImageStore creates a new mock instance.
func NewMockImageStore(ctrl *gomock.Controller) *MockImageStore {
	mock := &MockImageStore{ctrl: ctrl}
	mock.recorder = &MockImageStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockImageStore) EXPECT() *MockImageStoreMockRecorder {
	return m.recorder
}

// DeleteMissing mocks base method.
func (m *MockImageStore) DeleteMissing(arg0 context.Context, arg1 []string) (int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DeleteMissing", arg0, arg1)
	ret0, _ := ret[0].(int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// DeleteMissing indicates an expected call of DeleteMissing.
func (mr *MockImageStoreMockRecorder) DeleteMissing(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeleteMissing", reflect.TypeOf((*MockImageStore)(nil).DeleteMissing), arg0, arg1)
}

// GetByID mocks base method.
func (m *MockImageStore) GetByID(arg0 context.Context, arg1 int64) (*storage.ImageRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetByID", arg0, arg1)
	ret0, _ := ret[0].(*storage.ImageRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetByID indicates an expected call of GetByID.
func (mr *MockImageStoreMockRecorder) GetByID(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetByID", reflect.TypeOf((*MockImageStore)(nil).GetByID), arg0, arg1)
}

// GetByPath mocks base method.
func (m *MockImageStore) GetByPath(arg0 context.Context, arg1 string) (*storage.ImageRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetByPath", arg0, arg1)
	ret0, _ := ret[0].(*storage.ImageRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetByPath indicates an expected call of GetByPath.
func (mr *MockImageStoreMockRecorder) GetByPath(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetByPath", reflect.TypeOf((*MockImageStore)(nil).GetByPath), arg0, arg1)
}

// List mocks base method.
func (m *MockImageStore) List(arg0 context.Context, arg1, arg2 int) ([]*storage.ImageRecord, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "List", arg0, arg1, arg2)
	ret0, _ := ret[0].([]*storage.ImageRecord)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// List indicates an expected call of List.
func (mr *MockImageStoreMockRecorder) List(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "List", reflect.TypeOf((*MockImageStore)(nil).List), arg0, arg1, arg2)
}

// Upsert mocks base method.
func (m *MockImageStore) Upsert(arg0 context.Context, arg1 *storage.ImageRecord, arg2 []tags.Record) (int64, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Upsert", arg0, arg1, arg2)
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// Upsert indicates an expected call of Upsert.
func (mr *MockImageStoreMockRecorder) Upsert(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Upsert", reflect.TypeOf((*MockImageStore)(nil).Upsert), arg0, arg1, arg2)
}
