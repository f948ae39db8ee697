package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/port"
)

// EngineMock is a testify mock of port.Engine.
type EngineMock struct {
	mock.Mock
}

// NewEngineMock creates a mock whose expectations are asserted at cleanup.
func NewEngineMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *EngineMock {
	m := &EngineMock{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EngineMock) Transcode(ctx context.Context, req port.EngineRequest, progress port.ProgressFunc) error {
	args := m.Called(ctx, req, progress)
	return args.Error(0)
}

func (m *EngineMock) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	args := m.Called(ctx, inputPath)
	if r := args.Get(0); r != nil {
		return r.(*domain.ProbeResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EngineMock) Thumbnail(ctx context.Context, inputPath, outputPath string) error {
	args := m.Called(ctx, inputPath, outputPath)
	return args.Error(0)
}

var _ port.Engine = (*EngineMock)(nil)
