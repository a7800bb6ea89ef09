package unet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celltools/unetpx/internal/pixel"
	"github.com/celltools/unetpx/internal/weights"
)

// testWidths keeps forward passes in tests cheap; the architecture is
// otherwise identical to the published model.
var testWidths = []int{4, 8, 16, 32}

func randomCheckpoint(widths []int, seed int64) *weights.Checkpoint {
	rng := rand.New(rand.NewSource(seed))
	arrays := map[string]*weights.Array{}

	randn := func(n int, stddev float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.NormFloat64()) * stddev
		}
		return out
	}
	fill := func(n int, v float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = v
		}
		return out
	}

	for _, s := range blockSpecs(widths) {
		arrays[s.name+".kernel"] = &weights.Array{
			Shape: []int{s.out, s.in, s.kernel, s.kernel},
			Data:  randn(s.out*s.in*s.kernel*s.kernel, 0.1),
		}
		arrays[s.name+".bias"] = &weights.Array{Shape: []int{s.out}, Data: randn(s.out, 0.01)}

		if s.normalized {
			arrays[s.name+".gamma"] = &weights.Array{Shape: []int{s.out}, Data: fill(s.out, 1)}
			arrays[s.name+".beta"] = &weights.Array{Shape: []int{s.out}, Data: randn(s.out, 0.01)}
			arrays[s.name+".mean"] = &weights.Array{Shape: []int{s.out}, Data: randn(s.out, 0.01)}
			arrays[s.name+".variance"] = &weights.Array{Shape: []int{s.out}, Data: fill(s.out, 1)}
		}
	}

	return weights.NewCheckpoint(arrays)
}

func randomImage(h, w int, seed int64) *pixel.Image {
	rng := rand.New(rand.NewSource(seed))
	pix := make([]float32, h*w)
	for i := range pix {
		pix[i] = rng.Float32() * 255
	}

	img, _ := pixel.NewImage(h, w, pix)
	return img
}

func loadedTestModel(t *testing.T, h, w int) *Model {
	t.Helper()

	m, err := newModel(h, w, testWidths)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.SetWeights(randomCheckpoint(testWidths, 1)))
	return m
}

func TestNew_RejectsUnalignedDims(t *testing.T) {
	for _, dims := range [][2]int{{100, 100}, {0, 64}, {64, 0}, {64, 100}, {7, 8}} {
		_, err := New(dims[0], dims[1])
		assert.ErrorIs(t, err, ErrShape, "dims %v", dims)
	}
}

func TestBlockSpecs_ChannelProgression(t *testing.T) {
	specs := blockSpecs(encoderWidths)

	// 4 encoder stages, 3 decoder stages, one head
	require.Len(t, specs, 15)

	assert.Equal(t, blockSpec{"enc1.conv1", 1, 64, 3, 1, true}, specs[0])
	assert.Equal(t, blockSpec{"enc4.conv2", 512, 512, 3, 1, true}, specs[7])

	// first decoder block consumes the upsampled 512 channels plus the
	// 256-channel skip connection
	assert.Equal(t, blockSpec{"dec3.conv1", 768, 256, 3, 1, true}, specs[8])
	assert.Equal(t, blockSpec{"dec1.conv2", 64, 64, 3, 1, true}, specs[13])

	assert.Equal(t, blockSpec{"head", 64, 3, 1, 0, false}, specs[14])
}

func TestClassify_OutputShapeAndSoftmax(t *testing.T) {
	const h, w = 16, 24
	m := loadedTestModel(t, h, w)

	out, err := m.Classify(randomImage(h, w, 2))
	require.NoError(t, err)

	require.Equal(t, h, out.H)
	require.Equal(t, w, out.W)
	require.Len(t, out.Data, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			for c := pixel.Channel(0); c < pixel.NumChannels; c++ {
				p := out.At(y, x, c)
				assert.GreaterOrEqual(t, p, float32(0))
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-4, "pixel (%d,%d)", y, x)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	const h, w = 16, 16
	m := loadedTestModel(t, h, w)
	img := randomImage(h, w, 3)

	first, err := m.Classify(img)
	require.NoError(t, err)

	second, err := m.Classify(img)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestClassify_RequiresWeights(t *testing.T) {
	m, err := newModel(8, 8, testWidths)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Classify(randomImage(8, 8, 4))
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestClassify_DimensionMismatch(t *testing.T) {
	m := loadedTestModel(t, 16, 16)

	_, err := m.Classify(randomImage(8, 8, 5))
	assert.ErrorIs(t, err, ErrShape)
}

func TestClassify_FlatImage(t *testing.T) {
	m := loadedTestModel(t, 8, 8)

	img, err := pixel.NewImage(8, 8, make([]float32, 64))
	require.NoError(t, err)

	_, err = m.Classify(img)
	assert.ErrorIs(t, err, pixel.ErrFlat)
}

func TestSetWeights_RejectsBadKernelShape(t *testing.T) {
	m, err := newModel(8, 8, testWidths)
	require.NoError(t, err)
	defer m.Close()

	ckpt := randomCheckpoint(testWidths, 6)
	arr, err := ckpt.Array("enc1.conv1.kernel")
	require.NoError(t, err)
	arr.Shape = []int{1}
	arr.Data = arr.Data[:1]

	err = m.SetWeights(ckpt)
	assert.ErrorIs(t, err, weights.ErrArrayShape)
}

func TestSetWeights_RejectsMissingNormalization(t *testing.T) {
	m, err := newModel(8, 8, testWidths)
	require.NoError(t, err)
	defer m.Close()

	arrays := map[string]*weights.Array{}
	for _, s := range blockSpecs(testWidths) {
		arrays[s.name+".kernel"] = &weights.Array{Data: make([]float32, s.out*s.in*s.kernel*s.kernel)}
		arrays[s.name+".bias"] = &weights.Array{Data: make([]float32, s.out)}
	}

	err = m.SetWeights(weights.NewCheckpoint(arrays))
	assert.ErrorIs(t, err, weights.ErrArrayMissing)
}
