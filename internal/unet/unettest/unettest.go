// Package unettest provides checkpoint fixtures for tests that exercise the
// full-width published architecture.
package unettest

import (
	"math/rand"

	"github.com/celltools/unetpx/internal/unet"
	"github.com/celltools/unetpx/internal/weights"
)

// RandomCheckpoint builds an in-memory checkpoint with every array the
// published model expects, filled with small random values. Identity-like
// normalization statistics keep activations bounded.
func RandomCheckpoint(seed int64) *weights.Checkpoint {
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

	for _, b := range unet.Blocks() {
		arrays[b.Name+".kernel"] = &weights.Array{
			Shape: []int{b.Out, b.In, b.Kernel, b.Kernel},
			Data:  randn(b.Out*b.In*b.Kernel*b.Kernel, 0.05),
		}
		arrays[b.Name+".bias"] = &weights.Array{Shape: []int{b.Out}, Data: randn(b.Out, 0.01)}

		if b.Normalized {
			arrays[b.Name+".gamma"] = &weights.Array{Shape: []int{b.Out}, Data: fill(b.Out, 1)}
			arrays[b.Name+".beta"] = &weights.Array{Shape: []int{b.Out}, Data: fill(b.Out, 0)}
			arrays[b.Name+".mean"] = &weights.Array{Shape: []int{b.Out}, Data: fill(b.Out, 0)}
			arrays[b.Name+".variance"] = &weights.Array{Shape: []int{b.Out}, Data: fill(b.Out, 1)}
		}
	}

	return weights.NewCheckpoint(arrays)
}
