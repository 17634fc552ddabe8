// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package convbwdfilter

// im2col unfolds the input channels of group g of image n into colG, a
// (ICPG*FH*FW) x (OH*OW) row-major matrix. Positions falling in the padding are zero.
//
// For flipped (true convolution) problems the filter taps are stored in reverse order, so the
// product with diff lands on the right filter-gradient element.
func im2col[S any, T any](d *Descriptor, src []S, n, g int, colG []T, load func(S) T) {
	fm := d.grad
	filterH, filterW := fm.Spatial[0], fm.Spatial[1]
	in := d.InputSpatial()
	out := d.OutputSpatial()
	numPositions := out[0] * out[1]
	srcStrides := d.src.Strides
	var zero T

	row := 0
	for ci := range fm.ICPG {
		channelBase := n*srcStrides[0] + (g*fm.ICPG+ci)*srcStrides[1]
		for fh := range filterH {
			tapH := fh
			if fm.ShouldFlip {
				tapH = filterH - 1 - fh
			}
			offsetH := tapH*fm.Dilation[0] - fm.Padding[0]
			for fw := range filterW {
				tapW := fw
				if fm.ShouldFlip {
					tapW = filterW - 1 - fw
				}
				offsetW := tapW*fm.Dilation[1] - fm.Padding[1]
				colRow := colG[row*numPositions : (row+1)*numPositions]
				p := 0
				for oy := range out[0] {
					y := oy*fm.Stride[0] + offsetH
					if y < 0 || y >= in[0] {
						for range out[1] {
							colRow[p] = zero
							p++
						}
						continue
					}
					rowBase := channelBase + y*srcStrides[2]
					for ox := range out[1] {
						x := ox*fm.Stride[1] + offsetW
						if x < 0 || x >= in[1] {
							colRow[p] = zero
						} else {
							colRow[p] = load(src[rowBase+x*srcStrides[3]])
						}
						p++
					}
				}
				row++
			}
		}
	}
}

// gatherDiff copies the output channels of group g of image n into diffG, a contiguous
// OCPG x (OH*OW) matrix, converting to the compute type.
func gatherDiff[S any, T any](d *Descriptor, diff []S, n, g int, diffG []T, load func(S) T) {
	fm := d.grad
	out := d.OutputSpatial()
	strides := d.diff.Strides
	p := 0
	for m := range fm.OCPG {
		channelBase := n*strides[0] + (g*fm.OCPG+m)*strides[1]
		for oy := range out[0] {
			rowBase := channelBase + oy*strides[2]
			for ox := range out[1] {
				diffG[p] = load(diff[rowBase+ox*strides[3]])
				p++
			}
		}
	}
}
