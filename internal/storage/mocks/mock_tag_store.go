// Code generated by MockGen. DO NOT EDIT.
// Source: imagedex/internal/storage (interfaces: TagStore)
//
// Generated by this command:
//
//	mockgen -destination=mocks/mock_tag_store.go -package=mocks imagedex/internal/storage TagStore
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

// MockTagStore is a mock of TagStore interface.
type MockTagStore struct {
	ctrl     *gomock.Controller
	recorder *MockTagStoreMockRecorder
}

// MockTagStoreMockRecorder is the mock recorder for MockTagStore.
type MockTagStoreMockRecorder struct {
	mock *MockTagStore
}

// NewMockTagStore creates a new mock instance.
func NewMockTagStore(ctrl *gomock.Controller) *MockTagStore {
	mock := &MockTagStore{ctrl: ctrl}
	mock.recorder = &MockTagStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockTagStore) EXPECT() *MockTagStoreMockRecorder {
	return m.recorder
}

// ApplyAutoTags mocks base method.
func (m *MockTagStore) ApplyAutoTags(arg0 context.Context, arg1 int64, arg2 []tags.Record, arg3 string) (storage.ApplyResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ApplyAutoTags", arg0, arg1, arg2, arg3)
	ret0, _ := ret[0].(storage.ApplyResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ApplyAutoTags indicates an expected call of ApplyAutoTags.
func (mr *MockTagStoreMockRecorder) ApplyAutoTags(arg0, arg1, arg2, arg3 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ApplyAutoTags", reflect.TypeOf((*MockTagStore)(nil).ApplyAutoTags), arg0, arg1, arg2, arg3)
}

// ForImages mocks base method.
func (m *MockTagStore) ForImages(arg0 context.Context, arg1 []int64) (map[int64][]tags.Record, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ForImages", arg0, arg1)
	ret0, _ := ret[0].(map[int64][]tags.Record)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ForImages indicates an expected call of ForImages.
func (mr *MockTagStoreMockRecorder) ForImages(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ForImages", reflect.TypeOf((*MockTagStore)(nil).ForImages), arg0, arg1)
}

// HasAutoTags mocks base method.
func (m *MockTagStore) HasAutoTags(arg0 context.Context, arg1 int64) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "HasAutoTags", arg0, arg1)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// HasAutoTags indicates an expected call of HasAutoTags.
func (mr *MockTagStoreMockRecorder) HasAutoTags(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HasAutoTags", reflect.TypeOf((*MockTagStore)(nil).HasAutoTags), arg0, arg1)
}

// HasManualTags mocks base method.
func (m *MockTagStore) HasManualTags(arg0 context.Context, arg1 int64) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "HasManualTags", arg0, arg1)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// HasManualTags indicates an expected call of HasManualTags.
func (mr *MockTagStoreMockRecorder) HasManualTags(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HasManualTags", reflect.TypeOf((*MockTagStore)(nil).HasManualTags), arg0, arg1)
}

// HasRatingTag mocks base method.
func (m *MockTagStore) HasRatingTag(arg0 context.Context, arg1 int64) (bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "HasRatingTag", arg0, arg1)
	ret0, _ := ret[0].(bool)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// HasRatingTag indicates an expected call of HasRatingTag.
func (mr *MockTagStoreMockRecorder) HasRatingTag(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "HasRatingTag", reflect.TypeOf((*MockTagStore)(nil).HasRatingTag), arg0, arg1)
}

// RatingCounts mocks base method.
func (m *MockTagStore) RatingCounts(arg0 context.Context) (map[string]int, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RatingCounts", arg0)
	ret0, _ := ret[0].(map[string]int)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// RatingCounts indicates an expected call of RatingCounts.
func (mr *MockTagStoreMockRecorder) RatingCounts(arg0 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RatingCounts", reflect.TypeOf((*MockTagStore)(nil).RatingCounts), arg0)
}

// StoreRating mocks base method.
func (m *MockTagStore) StoreRating(arg0 context.Context, arg1 int64, arg2 string, arg3 float64, arg4 map[string]float64) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "StoreRating", arg0, arg1, arg2, arg3, arg4)
	ret0, _ := ret[0].(error)
	return ret0
}

// StoreRating indicates an expected call of StoreRating.
func (mr *MockTagStoreMockRecorder) StoreRating(arg0, arg1, arg2, arg3, arg4 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "StoreRating", reflect.TypeOf((*MockTagStore)(nil).StoreRating), arg0, arg1, arg2, arg3, arg4)
}

// UpdateRatingFromScores mocks base method.
func (m *MockTagStore) UpdateRatingFromScores(arg0 context.Context, arg1 int64, arg2 map[string]float64, arg3 string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "UpdateRatingFromScores", arg0, arg1, arg2, arg3)
	ret0, _ := ret[0].(error)
	return ret0
}

// UpdateRatingFromScores indicates an expected call of UpdateRatingFromScores.
func (mr *MockTagStoreMockRecorder) UpdateRatingFromScores(arg0, arg1, arg2, arg3 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdateRatingFromScores", reflect.TypeOf((*MockTagStore)(nil).UpdateRatingFromScores), arg0, arg1, arg2, arg3)
}
