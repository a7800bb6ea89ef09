package weights

import (
	"archive/zip"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sbinet/npyio"
)

// batchNormEpsilon matches the training-time batch normalization epsilon.
const batchNormEpsilon = 1e-3

// Array is one named float32 tensor of a checkpoint.
type Array struct {
	Shape []int
	Data  []float32
}

// Check validates the array against the expected dimensions. Converters may
// store arrays flattened, so a rank-1 array is accepted whenever its total
// length matches.
func (a *Array) Check(dims ...int) error {
	want := 1
	for _, d := range dims {
		want *= d
	}
	if len(a.Data) != want {
		return fmt.Errorf("%w: have %d values, want %v", ErrArrayShape, len(a.Data), dims)
	}

	if len(a.Shape) > 1 {
		if len(a.Shape) != len(dims) {
			return fmt.Errorf("%w: have rank %d, want rank %d", ErrArrayShape, len(a.Shape), len(dims))
		}
		for i, d := range dims {
			if a.Shape[i] != d {
				return fmt.Errorf("%w: have %v, want %v", ErrArrayShape, a.Shape, dims)
			}
		}
	}

	return nil
}

// Checkpoint is a set of named float32 arrays loaded from an npz archive
// (a zip of NumPy arrays), the on-disk layout the published Keras
// checkpoints are converted to for this port.
type Checkpoint struct {
	arrays map[string]*Array
}

// NewCheckpoint wraps a set of named arrays.
func NewCheckpoint(arrays map[string]*Array) *Checkpoint {
	return &Checkpoint{arrays: arrays}
}

// OpenCheckpoint reads every array of an npz checkpoint into memory.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("weights: failed to open checkpoint %s: %w", path, err)
	}
	defer zr.Close()

	arrays := make(map[string]*Array, len(zr.File))
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("weights: failed to open checkpoint entry %s: %w", f.Name, err)
		}

		arr, err := readArray(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("weights: failed to read checkpoint array %s: %w", name, err)
		}

		arrays[name] = arr
	}

	return &Checkpoint{arrays: arrays}, nil
}

func readArray(r io.Reader) (*Array, error) {
	np, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}

	var data []float32
	if err := np.Read(&data); err != nil {
		return nil, err
	}

	shape := make([]int, len(np.Header.Descr.Shape))
	copy(shape, np.Header.Descr.Shape)

	return &Array{Shape: shape, Data: data}, nil
}

// Array returns the named array.
func (c *Checkpoint) Array(name string) (*Array, error) {
	arr, ok := c.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArrayMissing, name)
	}

	return arr, nil
}

// ConvBlock is the loaded parameter set of one convolution block: kernel and
// bias, plus the batch normalization statistics folded into a per-channel
// affine scale/shift. Scale and Shift are nil for blocks without
// normalization (the output head).
type ConvBlock struct {
	Kernel *Array
	Bias   *Array
	Scale  []float32
	Shift  []float32
}

// ConvBlock assembles the parameters of the named convolution block. When
// the checkpoint carries batch normalization arrays for the block
// (gamma, beta, mean, variance), they are folded into the inference-exact
// affine y = scale*x + shift per channel.
func (c *Checkpoint) ConvBlock(name string) (*ConvBlock, error) {
	kernel, err := c.Array(name + ".kernel")
	if err != nil {
		return nil, err
	}

	bias, err := c.Array(name + ".bias")
	if err != nil {
		return nil, err
	}

	block := &ConvBlock{Kernel: kernel, Bias: bias}

	gamma, err := c.Array(name + ".gamma")
	if err != nil {
		return block, nil
	}

	beta, err := c.Array(name + ".beta")
	if err != nil {
		return nil, err
	}
	mean, err := c.Array(name + ".mean")
	if err != nil {
		return nil, err
	}
	variance, err := c.Array(name + ".variance")
	if err != nil {
		return nil, err
	}

	n := len(gamma.Data)
	if len(beta.Data) != n || len(mean.Data) != n || len(variance.Data) != n {
		return nil, fmt.Errorf("%w: inconsistent normalization arrays for %s", ErrArrayShape, name)
	}

	block.Scale = make([]float32, n)
	block.Shift = make([]float32, n)
	for i := 0; i < n; i++ {
		s := gamma.Data[i] / float32(math.Sqrt(float64(variance.Data[i])+batchNormEpsilon))
		block.Scale[i] = s
		block.Shift[i] = beta.Data[i] - mean.Data[i]*s
	}

	return block, nil
}
