// Package unet builds and runs the fixed encoder-decoder network used for
// 3-class nuclei pixel classification (background, nucleus interior,
// nucleus boundary).
//
// The graph is assembled with gorgonia and parameterized only by the input
// spatial dimensions. Batch normalization (trained with momentum 0.9)
// appears at inference as a per-channel affine whose coefficients are
// folded from the checkpoint's running statistics.
package unet

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/celltools/unetpx/internal/pixel"
	"github.com/celltools/unetpx/internal/weights"
)

// encoderWidths are the channel widths of the published nuclei model.
var encoderWidths = []int{64, 128, 256, 512}

const numClasses = int(pixel.NumChannels)

// blockSpec describes one convolution block of the architecture.
type blockSpec struct {
	name       string
	in, out    int
	kernel     int
	pad        int
	normalized bool
}

// blockSpecs lists every convolution block in graph order: the encoder
// stages, the decoder stages (whose first block consumes the upsampled
// feature map concatenated with the skip connection), and the 1×1 output
// head.
func blockSpecs(widths []int) []blockSpec {
	specs := make([]blockSpec, 0, 4*len(widths)-1)

	in := 1
	for i, width := range widths {
		name := fmt.Sprintf("enc%d", i+1)
		specs = append(specs,
			blockSpec{name + ".conv1", in, width, 3, 1, true},
			blockSpec{name + ".conv2", width, width, 3, 1, true},
		)
		in = width
	}

	for i := len(widths) - 2; i >= 0; i-- {
		width := widths[i]
		name := fmt.Sprintf("dec%d", i+1)
		specs = append(specs,
			blockSpec{name + ".conv1", in + width, width, 3, 1, true},
			blockSpec{name + ".conv2", width, width, 3, 1, true},
		)
		in = width
	}

	return append(specs, blockSpec{"head", in, numClasses, 1, 0, false})
}

// Block describes one convolution block of the published architecture and
// the checkpoint arrays expected for it: <Name>.kernel (Out×In×Kernel×Kernel,
// OIHW), <Name>.bias (Out), and when Normalized also <Name>.gamma, .beta,
// .mean and .variance (Out each). Conversion tooling iterates this list.
type Block struct {
	Name       string
	In, Out    int
	Kernel     int
	Normalized bool
}

// Blocks lists the convolution blocks of the published nuclei model in
// graph order.
func Blocks() []Block {
	specs := blockSpecs(encoderWidths)
	blocks := make([]Block, len(specs))
	for i, s := range specs {
		blocks[i] = Block{Name: s.name, In: s.in, Out: s.out, Kernel: s.kernel, Normalized: s.normalized}
	}

	return blocks
}

// Model is an immutable computation graph mapping one single-channel image
// of fixed spatial dimensions to a 3-channel probability map of the same
// dimensions. A Model must be rebuilt for different dimensions and is not
// safe for concurrent use.
type Model struct {
	g      *gorgonia.ExprGraph
	vm     gorgonia.VM
	in     *gorgonia.Node
	out    *gorgonia.Node
	params map[string]*gorgonia.Node
	h, w   int
	widths []int
	loaded bool
}

// New builds the network for images of exactly h×w pixels. The three
// pooling stages halve the spatial extent, so h and w must be positive
// multiples of 8 for the decoder's skip concatenations to align.
func New(h, w int) (*Model, error) {
	return newModel(h, w, encoderWidths)
}

func newModel(h, w int, widths []int) (*Model, error) {
	stride := 1 << uint(len(widths)-1)
	if h <= 0 || w <= 0 || h%stride != 0 || w%stride != 0 {
		return nil, fmt.Errorf("%w: %dx%d, spatial dimensions must be positive multiples of %d", ErrShape, h, w, stride)
	}

	g := gorgonia.NewGraph()
	b := &graphBuilder{g: g, params: map[string]*gorgonia.Node{}}

	in := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(1, 1, h, w), gorgonia.WithName("input"))

	specs := blockSpecs(widths)
	si := 0
	next := func() blockSpec {
		s := specs[si]
		si++
		return s
	}

	cur := in
	skips := make([]*gorgonia.Node, 0, len(widths)-1)
	for i := range widths {
		cur = b.convBlock(next(), cur)
		cur = b.convBlock(next(), cur)
		if i < len(widths)-1 {
			skips = append(skips, cur)
			cur = b.maxPool(cur)
		}
	}

	for i := len(widths) - 2; i >= 0; i-- {
		cur = b.upsample(cur)
		cur = b.concat(cur, skips[i])
		cur = b.convBlock(next(), cur)
		cur = b.convBlock(next(), cur)
	}

	cur = b.convBlock(next(), cur)
	out := b.softmax(cur)

	if b.err != nil {
		return nil, b.err
	}

	return &Model{
		g:      g,
		vm:     gorgonia.NewTapeMachine(g),
		in:     in,
		out:    out,
		params: b.params,
		h:      h,
		w:      w,
		widths: widths,
	}, nil
}

// Dims returns the spatial dimensions the model was built for.
func (m *Model) Dims() (h, w int) {
	return m.h, m.w
}

// SetWeights binds a loaded checkpoint to the graph, validating the shape
// of every expected array.
func (m *Model) SetWeights(ckpt *weights.Checkpoint) error {
	for _, s := range blockSpecs(m.widths) {
		block, err := ckpt.ConvBlock(s.name)
		if err != nil {
			return fmt.Errorf("unet: %w", err)
		}

		if err := block.Kernel.Check(s.out, s.in, s.kernel, s.kernel); err != nil {
			return fmt.Errorf("unet: %s kernel: %w", s.name, err)
		}
		if err := block.Bias.Check(s.out); err != nil {
			return fmt.Errorf("unet: %s bias: %w", s.name, err)
		}

		m.bind(s.name+".kernel", block.Kernel.Data, s.out, s.in, s.kernel, s.kernel)
		m.bind(s.name+".bias", block.Bias.Data, 1, s.out, 1, 1)

		if s.normalized {
			if block.Scale == nil {
				return fmt.Errorf("unet: %s normalization: %w", s.name, weights.ErrArrayMissing)
			}
			if len(block.Scale) != s.out {
				return fmt.Errorf("unet: %s normalization: %w", s.name, weights.ErrArrayShape)
			}

			m.bind(s.name+".scale", block.Scale, 1, s.out, 1, 1)
			m.bind(s.name+".shift", block.Shift, 1, s.out, 1, 1)
		}
	}

	m.loaded = true
	return nil
}

func (m *Model) bind(name string, data []float32, dims ...int) {
	t := tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data))
	gorgonia.Let(m.params[name], t)
}

// Classify normalizes img to [0,1] by min-max scaling and executes one
// forward pass with batch size 1, returning the per-pixel class
// probabilities. The same weights and image always produce identical
// output.
func (m *Model) Classify(img *pixel.Image) (*pixel.ClassMap, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	if img.H != m.h || img.W != m.w {
		return nil, fmt.Errorf("%w: model built for %dx%d, image is %dx%d", ErrShape, m.h, m.w, img.H, img.W)
	}

	norm, err := img.Normalized()
	if err != nil {
		return nil, err
	}

	batch := tensor.New(tensor.WithShape(1, 1, m.h, m.w), tensor.WithBacking(norm.Pix))
	if err := gorgonia.Let(m.in, batch); err != nil {
		return nil, fmt.Errorf("unet: failed to bind input: %w", err)
	}

	m.vm.Reset()
	if err := m.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("unet: forward pass failed: %w", err)
	}

	val, ok := m.out.Value().(tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("unet: forward pass produced no output value")
	}

	// copy out of the machine-owned buffer before the next run reuses it
	data := val.Data().([]float32)
	probs := make([]float32, len(data))
	copy(probs, data)

	return pixel.NewClassMap(m.h, m.w, probs)
}

// Close releases the underlying virtual machine.
func (m *Model) Close() error {
	return m.vm.Close()
}

// graphBuilder threads an error through graph assembly so each layer can be
// chained without per-op error plumbing.
type graphBuilder struct {
	g      *gorgonia.ExprGraph
	params map[string]*gorgonia.Node
	err    error
}

func (b *graphBuilder) fail(op string, err error) *gorgonia.Node {
	if b.err == nil {
		b.err = fmt.Errorf("unet: %s: %w", op, err)
	}
	return nil
}

func (b *graphBuilder) param(name string, dims ...int) *gorgonia.Node {
	n := gorgonia.NewTensor(b.g, tensor.Float32, len(dims),
		gorgonia.WithShape(dims...), gorgonia.WithName(name))
	b.params[name] = n
	return n
}

// convBlock is one same-padded convolution with bias and ReLU activation,
// followed by the folded batch normalization affine when s.normalized.
func (b *graphBuilder) convBlock(s blockSpec, x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}

	kernel := b.param(s.name+".kernel", s.out, s.in, s.kernel, s.kernel)
	y, err := gorgonia.Conv2d(x, kernel, tensor.Shape{s.kernel, s.kernel},
		[]int{s.pad, s.pad}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return b.fail(s.name, err)
	}

	bias := b.param(s.name+".bias", 1, s.out, 1, 1)
	if y, err = gorgonia.BroadcastAdd(y, bias, nil, []byte{2, 3}); err != nil {
		return b.fail(s.name, err)
	}

	if y, err = gorgonia.Rectify(y); err != nil {
		return b.fail(s.name, err)
	}

	if s.normalized {
		scale := b.param(s.name+".scale", 1, s.out, 1, 1)
		shift := b.param(s.name+".shift", 1, s.out, 1, 1)

		if y, err = gorgonia.BroadcastHadamardProd(y, scale, nil, []byte{2, 3}); err != nil {
			return b.fail(s.name, err)
		}
		if y, err = gorgonia.BroadcastAdd(y, shift, nil, []byte{2, 3}); err != nil {
			return b.fail(s.name, err)
		}
	}

	return y
}

func (b *graphBuilder) maxPool(x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}

	y, err := gorgonia.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return b.fail("maxpool", err)
	}
	return y
}

func (b *graphBuilder) upsample(x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}

	y, err := gorgonia.Upsample2D(x, 2)
	if err != nil {
		return b.fail("upsample", err)
	}
	return y
}

// concat joins the upsampled decoder path with an encoder skip connection
// along the channel axis.
func (b *graphBuilder) concat(x, skip *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}

	y, err := gorgonia.Concat(1, x, skip)
	if err != nil {
		return b.fail("concat", err)
	}
	return y
}

func (b *graphBuilder) softmax(x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}

	y, err := gorgonia.SoftMax(x, 1)
	if err != nil {
		return b.fail("softmax", err)
	}
	return y
}
