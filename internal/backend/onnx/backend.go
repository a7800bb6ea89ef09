// Package onnx runs an exported ONNX copy of the network through the
// onnxruntime shared library. The export uses dynamic spatial axes with
// tensor names "input" (1×1×H×W) and "output" (1×3×H×W, softmax applied).
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/celltools/unetpx/internal/backend"
	"github.com/celltools/unetpx/internal/mapsafe"
	"github.com/celltools/unetpx/internal/pixel"
)

type shapeKey struct {
	h, w int
}

// session holds the fixed-shape tensors bound to one onnxruntime session.
type session struct {
	in   *ort.Tensor[float32]
	out  *ort.Tensor[float32]
	sess *ort.AdvancedSession
}

func (s *session) destroy() {
	if s.sess != nil {
		s.sess.Destroy()
	}
	if s.in != nil {
		s.in.Destroy()
	}
	if s.out != nil {
		s.out.Destroy()
	}
}

// Backend implements backend.Classifier on onnxruntime. One session is
// created per distinct input shape and reused across calls.
type Backend struct {
	modelPath string
	threads   int

	mu       sync.Mutex
	sessions map[shapeKey]*session
}

// NewBackend initializes the onnxruntime environment and prepares the
// engine. Options: library_path (string, path to the onnxruntime shared
// library), intra_op_threads (int, 0 leaves the runtime default).
func NewBackend(modelPath string, options map[string]any) (*Backend, error) {
	if lib := mapsafe.Get(options, "library_path", ""); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: failed to initialize environment: %w", err)
		}
	}

	return &Backend{
		modelPath: modelPath,
		threads:   mapsafe.Get(options, "intra_op_threads", 0),
		sessions:  make(map[shapeKey]*session),
	}, nil
}

// Provider returns the engine identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderONNX
}

// Classify runs one forward pass with batch size 1.
func (b *Backend) Classify(ctx context.Context, img *pixel.Image) (*pixel.ClassMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	norm, err := img.Normalized()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.session(img.H, img.W)
	if err != nil {
		return nil, err
	}

	copy(s.in.GetData(), norm.Pix)

	if err := s.sess.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	data := s.out.GetData()
	probs := make([]float32, len(data))
	copy(probs, data)

	return pixel.NewClassMap(img.H, img.W, probs)
}

// session returns the session for the given dimensions, creating it on
// first use.
func (b *Backend) session(h, w int) (*session, error) {
	key := shapeKey{h, w}
	if s, ok := b.sessions[key]; ok {
		return s, nil
	}

	in, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(h), int64(w)))
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(pixel.NumChannels), int64(h), int64(w)))
	if err != nil {
		in.Destroy()
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}

	var opts *ort.SessionOptions
	if b.threads > 0 {
		if opts, err = ort.NewSessionOptions(); err != nil {
			in.Destroy()
			out.Destroy()
			return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
		}
		defer opts.Destroy()

		if err := opts.SetIntraOpNumThreads(b.threads); err != nil {
			in.Destroy()
			out.Destroy()
			return nil, fmt.Errorf("onnx: failed to set thread count: %w", err)
		}
	}

	sess, err := ort.NewAdvancedSession(b.modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{in}, []ort.ArbitraryTensor{out},
		opts)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	s := &session{in: in, out: out, sess: sess}
	b.sessions[key] = s
	return s, nil
}

// Close destroys every session and tears down the onnxruntime environment.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, s := range b.sessions {
		s.destroy()
		delete(b.sessions, key)
	}

	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
