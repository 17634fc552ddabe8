// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
)

func randomBuffer(rng *rand.Rand, dtype dtypes.DType, size int) any {
	switch dtype {
	case dtypes.Float32:
		flat := make([]float32, size)
		for i := range flat {
			flat[i] = rng.Float32()*2 - 1
		}
		return flat
	case dtypes.Float64:
		flat := make([]float64, size)
		for i := range flat {
			flat[i] = rng.Float64()*2 - 1
		}
		return flat
	case dtypes.Float16:
		flat := make([]float16.Float16, size)
		for i := range flat {
			flat[i] = float16.Fromfloat32(rng.Float32()*2 - 1)
		}
		return flat
	}
	panic(fmt.Sprintf("unsupported dtype %s", dtype))
}

func zeroBuffer(dtype dtypes.DType, size int) any {
	switch dtype {
	case dtypes.Float32:
		return make([]float32, size)
	case dtypes.Float64:
		return make([]float64, size)
	case dtypes.Float16:
		return make([]float16.Float16, size)
	}
	panic(fmt.Sprintf("unsupported dtype %s", dtype))
}

func valueAt(buffer any, i int) float64 {
	switch flat := buffer.(type) {
	case []float32:
		return float64(flat[i])
	case []float64:
		return flat[i]
	case []float16.Float16:
		return float64(flat[i].Float32())
	}
	panic(fmt.Sprintf("unsupported buffer type %T", buffer))
}

// maxAbsDiff returns the largest absolute difference between two gradients.
func maxAbsDiff(a, b any, size int) float64 {
	var maxDiff float64
	for i := range size {
		maxDiff = max(maxDiff, math.Abs(valueAt(a, i)-valueAt(b, i)))
	}
	return maxDiff
}

// execute runs each algorithm repeat times on the same random inputs, and reports its mean time and
// the difference of its result to the first algorithm's.
func execute(d *convbwdfilter.Descriptor, algos []convbwdfilter.Algorithm, repeat int) {
	repeat = max(repeat, 1)
	rng := rand.New(rand.NewPCG(0, 0))
	src := randomBuffer(rng, d.Src().DType, d.Src().Span())
	diff := randomBuffer(rng, d.Diff().DType, d.Diff().Span())
	fm := d.Filter()

	type result struct {
		algo     convbwdfilter.Algorithm
		grad     any
		duration time.Duration
	}
	results := make([]result, 0, len(algos))
	pbar := progressbar.Default(int64(len(algos)*repeat), "Executing")
	for _, algo := range algos {
		workspace := make([]byte, must.M1(algo.WorkspaceInBytes(d)))
		grad := zeroBuffer(fm.DType, fm.Size())
		args := convbwdfilter.NewExecArgs(d, src, diff, grad, workspace)
		start := time.Now()
		for range repeat {
			must.M(algo.Exec(args))
			_ = pbar.Add(1)
		}
		results = append(results, result{algo: algo, grad: grad, duration: time.Since(start) / time.Duration(repeat)})
	}
	_ = pbar.Finish()

	fmt.Println(titleStyle.Render("Executions"))
	table := newPlainTable(true)
	table.Row("Name", "Time/run", "Workspace", fmt.Sprintf("Max diff to %s", results[0].algo.Name()))
	for _, r := range results {
		table.Row(r.algo.Name(), r.duration.String(), humanize.Bytes(must.M1(r.algo.WorkspaceInBytes(d))),
			fmt.Sprintf("%.3g", maxAbsDiff(results[0].grad, r.grad, fm.Size())))
	}
	fmt.Println(table.Render())
}
