package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/celltools/unetpx/internal/pixel"
)

// --- Mock types ---

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Provider() Provider {
	args := m.Called()
	return Provider(args.String(0))
}

func (m *MockClassifier) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	args := m.Called(ctx, img)
	if out, ok := args.Get(0).(*pixel.ClassMap); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClassifier) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	engine := new(MockClassifier)
	engine.On("Provider").Return("graph")

	reg.Register(engine)

	got, ok := reg.Get(ProviderGraph)
	assert.True(t, ok)
	assert.Equal(t, engine, got)

	// Ensure a missing engine returns false
	_, ok = reg.Get(ProviderONNX)
	assert.False(t, ok)

	engine.AssertExpectations(t)
}

func TestRegistry_Providers(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockClassifier)
	e1.On("Provider").Return("graph")
	e2 := new(MockClassifier)
	e2.On("Provider").Return("onnx")

	reg.Register(e1)
	reg.Register(e2)

	assert.ElementsMatch(t, []Provider{ProviderGraph, ProviderONNX}, reg.Providers())
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockClassifier)
	e2 := new(MockClassifier)
	e1.On("Provider").Return("graph")
	e2.On("Provider").Return("onnx")

	e1.On("Close").Return(nil).Once()
	e2.On("Close").Return(nil).Once()

	reg.Register(e1)
	reg.Register(e2)

	err := reg.Close()
	assert.NoError(t, err)

	e1.AssertExpectations(t)
	e2.AssertExpectations(t)
}

func TestRegistry_CloseErrorPropagation(t *testing.T) {
	reg := NewRegistry()

	e1 := new(MockClassifier)
	e2 := new(MockClassifier)

	e1.On("Provider").Return("graph")
	e2.On("Provider").Return("onnx")

	e1.On("Close").Return(errors.New("close failed")).Maybe()
	e2.On("Close").Return(errors.New("close failed")).Maybe()

	reg.Register(e1)
	reg.Register(e2)

	err := reg.Close()
	assert.EqualError(t, err, "close failed")
}
