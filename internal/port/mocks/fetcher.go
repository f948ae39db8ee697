package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/transcoder/internal/port"
)

// FetcherMock is a testify mock of port.Fetcher.
type FetcherMock struct {
	mock.Mock
}

func NewFetcherMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *FetcherMock {
	m := &FetcherMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *FetcherMock) Fetch(ctx context.Context, url, destDir string) (*port.FetchResult, error) {
	args := m.Called(ctx, url, destDir)
	if r := args.Get(0); r != nil {
		return r.(*port.FetchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ port.Fetcher = (*FetcherMock)(nil)
