// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package software

import (
	"sync"

	"github.com/gomlx/filtergrad/convbwdfilter"
)

// problem holds the geometry of a descriptor, flattened for the inner loops.
type problem struct {
	fm                      convbwdfilter.FilterMeta
	batchSize               int
	in, out                 [2]int
	srcStrides, diffStrides []int
	filterSize              int
}

func newProblem(d *convbwdfilter.Descriptor) *problem {
	fm := d.Filter()
	return &problem{
		fm:          fm,
		batchSize:   d.BatchSize(),
		in:          d.InputSpatial(),
		out:         d.OutputSpatial(),
		srcStrides:  d.Src().Strides,
		diffStrides: d.Diff().Strides,
		filterSize:  fm.Size(),
	}
}

// direct writes into grad the gradient contributed by images [batchBegin, batchEnd).
func (p *problem) direct(src, diff, grad []float32, batchBegin, batchEnd int) {
	fm := p.fm
	filterH, filterW := fm.Spatial[0], fm.Spatial[1]
	idx := 0
	for g := range fm.Group {
		for m := range fm.OCPG {
			oc := g*fm.OCPG + m
			for ci := range fm.ICPG {
				c := g*fm.ICPG + ci
				for fh := range filterH {
					tapH := fh
					if fm.ShouldFlip {
						tapH = filterH - 1 - fh
					}
					for fw := range filterW {
						tapW := fw
						if fm.ShouldFlip {
							tapW = filterW - 1 - fw
						}
						var sum float32
						for n := batchBegin; n < batchEnd; n++ {
							sum += p.tapSum(src, diff, n, c, oc, tapH, tapW)
						}
						grad[idx] = sum
						idx++
					}
				}
			}
		}
	}
}

// tapSum returns Σ_{oy,ox} diff[n, oc, oy, ox] * src[n, c, y, x] for the positions the filter tap
// (tapH, tapW) reads.
func (p *problem) tapSum(src, diff []float32, n, c, oc, tapH, tapW int) (sum float32) {
	fm := p.fm
	srcChannel := n*p.srcStrides[0] + c*p.srcStrides[1]
	diffChannel := n*p.diffStrides[0] + oc*p.diffStrides[1]
	for oy := range p.out[0] {
		y := oy*fm.Stride[0] - fm.Padding[0] + tapH*fm.Dilation[0]
		if y < 0 || y >= p.in[0] {
			continue
		}
		for ox := range p.out[1] {
			x := ox*fm.Stride[1] - fm.Padding[1] + tapW*fm.Dilation[1]
			if x < 0 || x >= p.in[1] {
				continue
			}
			sum += diff[diffChannel+oy*p.diffStrides[2]+ox*p.diffStrides[3]] *
				src[srcChannel+y*p.srcStrides[2]+x*p.srcStrides[3]]
		}
	}
	return
}

// splitBatch computes the partial gradients of numChunks batch chunks concurrently, and reduces them into
// grad in the order they finish.
func (p *problem) splitBatch(src, diff, grad []float32, numChunks int, partials []float32) {
	finished := make(chan int, numChunks)
	var wg sync.WaitGroup
	for chunk := range numChunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			begin := chunk * p.batchSize / numChunks
			end := (chunk + 1) * p.batchSize / numChunks
			p.direct(src, diff, partials[chunk*p.filterSize:(chunk+1)*p.filterSize], begin, end)
			finished <- chunk
		}()
	}

	clear(grad[:p.filterSize])
	for range numChunks {
		chunk := <-finished
		partial := partials[chunk*p.filterSize : (chunk+1)*p.filterSize]
		for i, v := range partial {
			grad[i] += v
		}
	}
	wg.Wait()
}
