package services

import (
	"context"

	"github.com/jankos/backend/internal/gemini"
	"github.com/stretchr/testify/mock"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateImage(ctx context.Context, prompt string, refs []gemini.ImageInput) (*gemini.ImageResult, error) {
	args := m.Called(ctx, prompt, refs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.ImageResult), args.Error(1)
}

func (m *MockGenerator) GenerateGrounded(ctx context.Context, system, prompt string) (string, []gemini.GroundingChunk, error) {
	args := m.Called(ctx, system, prompt)
	var chunks []gemini.GroundingChunk
	if args.Get(1) != nil {
		chunks = args.Get(1).([]gemini.GroundingChunk)
	}
	return args.String(0), chunks, args.Error(2)
}

func (m *MockGenerator) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, data, contentType)
	return args.String(0), args.Error(1)
}
