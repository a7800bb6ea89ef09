package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/celltools/unetpx/internal/backend"
	"github.com/celltools/unetpx/internal/pixel"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Provider() backend.Provider {
	args := m.Called()
	return backend.Provider(args.String(0))
}

func (m *mockEngine) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	args := m.Called(ctx, img)
	if out, ok := args.Get(0).(*pixel.ClassMap); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEngine) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestClassify_DelegatesToEngine(t *testing.T) {
	img, err := pixel.NewImage(1, 2, []float32{0, 1})
	require.NoError(t, err)

	want, err := pixel.NewClassMap(1, 2, []float32{1, 0, 0, 1, 0, 0})
	require.NoError(t, err)

	engine := new(mockEngine)
	engine.On("Provider").Return("graph")
	engine.On("Classify", mock.Anything, img).Return(want, nil).Once()

	registry := backend.NewRegistry()
	registry.Register(engine)

	svc := NewSegmentation(registry, backend.ProviderGraph)

	got, err := svc.Classify(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	engine.AssertExpectations(t)
}

func TestClassify_UnknownProvider(t *testing.T) {
	svc := NewSegmentation(backend.NewRegistry(), backend.ProviderONNX)

	img, err := pixel.NewImage(1, 1, []float32{1})
	require.NoError(t, err)

	_, err = svc.Classify(context.Background(), img)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestClassify_EngineErrorPropagates(t *testing.T) {
	engine := new(mockEngine)
	engine.On("Provider").Return("graph")
	engine.On("Classify", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	registry := backend.NewRegistry()
	registry.Register(engine)

	svc := NewSegmentation(registry, backend.ProviderGraph)

	img, err := pixel.NewImage(1, 1, []float32{1})
	require.NoError(t, err)

	_, err = svc.Classify(context.Background(), img)
	assert.EqualError(t, err, "boom")

	engine.AssertExpectations(t)
}

func TestModuleIdentity(t *testing.T) {
	assert.Equal(t, "ClassifyPixels-Unet", ModuleName)
	assert.Equal(t, 1, ModuleRevision)
}
