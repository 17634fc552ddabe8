// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// filtergrad_algos lists the algorithms able to compute the gradient of a 2D convolution with respect to its
// filter, for a problem given by flags, and optionally executes and times them.
//
// Example:
//
//	filtergrad_algos -c=32 -oc=32 -group=32 -library=software -exec -repeat=10
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/filtergrad/backends"
	_ "github.com/gomlx/filtergrad/backends/software"
	"github.com/gomlx/filtergrad/convbwdfilter"
	"github.com/gomlx/filtergrad/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagBatch    = flag.Int("n", 8, "Batch size.")
	flagChannels = flag.Int("c", 16, "Number of input channels.")
	flagHeight   = flag.Int("height", 32, "Input height.")
	flagWidth    = flag.Int("width", 32, "Input width.")
	flagOutputCh = flag.Int("oc", 16, "Number of output channels.")
	flagGroup    = flag.Int("group", 1, "Number of groups: it must divide both -c and -oc. "+
		"Set it to -c for a depthwise convolution.")
	flagFilterH  = flag.Int("fh", 3, "Filter height.")
	flagFilterW  = flag.Int("fw", 3, "Filter width.")
	flagStride   = flag.Int("stride", 1, "Stride, for both spatial axes.")
	flagPad      = flag.Int("pad", 1, "Padding, for both spatial axes.")
	flagDilation = flag.Int("dilation", 1, "Dilation, for both spatial axes.")
	flagFlip     = flag.Bool("flip", false, "Flip the filter (true convolution instead of cross-correlation).")
	flagNHWC     = flag.Bool("nhwc", false, "Use the NHWC format (only external libraries may support it).")
	flagDType    = flag.String("dtype", "float32", "DType of the problem: float32, float64 or float16.")

	flagLibrary = flag.String("library", "", fmt.Sprintf("Compute library configuration, formatted as "+
		"\"<library>:<config>\". If empty, it uses $%s or the first registered library.", backends.FILTERGRAD_LIBRARY))
	flagConfig = flag.String("config", "", fmt.Sprintf("Registry options, e.g. \"reproducible=false,parallelism=4\". "+
		"If empty, it uses $%s.", convbwdfilter.ConfigEnv))
	flagBudget       = flag.String("budget", "", "Workspace budget, e.g. \"64MB\". Empty means unlimited.")
	flagReproducible = flag.Bool("reproducible", false, "Only list reproducible algorithms as usable.")

	flagExec   = flag.Bool("exec", false, "Execute every usable algorithm and compare their results.")
	flagRepeat = flag.Int("repeat", 1, "Number of times each algorithm is executed with -exec, for timing.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'filtergrad_algos -help'.", flag.Args())
		os.Exit(1)
	}

	d, err := descriptorFromFlags()
	if err != nil {
		klog.Errorf("Invalid problem: %+v", err)
		os.Exit(1)
	}
	var registry *convbwdfilter.Registry
	if *flagLibrary == "" && *flagConfig == "" {
		registry = must.M1(backends.NewDefaultRegistry())
	} else {
		registry = must.M1(backends.NewRegistry(*flagLibrary, *flagConfig))
	}
	budget := convbwdfilter.NoWorkspaceLimit
	if *flagBudget != "" {
		budget = must.M1(humanize.ParseBytes(*flagBudget))
	}

	reportProblem(registry, d, budget)
	usable := reportAlgorithms(registry, d, budget)
	if *flagExec {
		if len(usable) == 0 {
			klog.Errorf("No usable algorithm for %s", d)
			os.Exit(1)
		}
		execute(d, usable, *flagRepeat)
	}
}

func parseDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float64", "f64":
		return dtypes.Float64, nil
	case "float16", "f16":
		return dtypes.Float16, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported dtype %q", name)
}

func outputDim(input, filter, stride, padding, dilation int) int {
	dilated := dilation*(filter-1) + 1
	if input+2*padding < dilated || stride <= 0 {
		return 0
	}
	return (input+2*padding-dilated)/stride + 1
}

// descriptorFromFlags builds the problem from the flags. Invalid configurations are reported by
// convbwdfilter.NewDescriptor.
func descriptorFromFlags() (*convbwdfilter.Descriptor, error) {
	dtype, err := parseDType(*flagDType)
	if err != nil {
		return nil, err
	}
	group := *flagGroup
	if group <= 0 || *flagChannels%group != 0 || *flagOutputCh%group != 0 {
		return nil, errors.Errorf("-group=%d must divide -c=%d and -oc=%d", group, *flagChannels, *flagOutputCh)
	}
	param := convbwdfilter.DefaultParam()
	param.PadH, param.PadW = *flagPad, *flagPad
	param.StrideH, param.StrideW = *flagStride, *flagStride
	param.DilateH, param.DilateW = *flagDilation, *flagDilation
	if *flagFlip {
		param.Mode = convbwdfilter.ModeConvolution
	}
	if *flagNHWC {
		param.Format = convbwdfilter.FormatNHWC
	}
	outH := outputDim(*flagHeight, *flagFilterH, *flagStride, *flagPad, *flagDilation)
	outW := outputDim(*flagWidth, *flagFilterW, *flagStride, *flagPad, *flagDilation)
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("input %dx%d is too small for a dilated filter %dx%d (dilation %d, padding %d)",
			*flagHeight, *flagWidth, *flagFilterH, *flagFilterW, *flagDilation, *flagPad)
	}

	n, c, oc := *flagBatch, *flagChannels, *flagOutputCh
	filterDims := []int{*flagFilterH, *flagFilterW}
	var src, diff shapes.Layout
	var grad []int
	if param.Format == convbwdfilter.FormatNCHW {
		src = shapes.Make(dtype, n, c, *flagHeight, *flagWidth)
		diff = shapes.Make(dtype, n, oc, outH, outW)
		grad = append([]int{c / group}, filterDims...)
	} else {
		src = shapes.Make(dtype, n, *flagHeight, *flagWidth, c)
		diff = shapes.Make(dtype, n, outH, outW, oc)
		grad = append(filterDims, c/group)
	}
	if group == 1 {
		grad = append([]int{oc}, grad...)
	} else {
		param.Sparse = convbwdfilter.SparseGroup
		grad = append([]int{group, oc / group}, grad...)
	}
	return convbwdfilter.NewDescriptor(param, src, diff, shapes.Make(dtype, grad...))
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func reportProblem(registry *convbwdfilter.Registry, d *convbwdfilter.Descriptor, budget uint64) {
	fmt.Println(titleStyle.Render("Problem"))
	table := newPlainTable(false)
	fm := d.Filter()
	src, diff := d.Src(), d.Diff()
	table.Row("src", src.String())
	table.Row("diff", diff.String())
	table.Row("filter", fm.String())
	table.Row("param", d.Param().String())
	table.Row("src bytes", humanize.Bytes(src.Memory()))
	table.Row("filter params", humanize.Comma(int64(fm.Size())))
	if budget == convbwdfilter.NoWorkspaceLimit {
		table.Row("workspace budget", "unlimited")
	} else {
		table.Row("workspace budget", humanize.Bytes(budget))
	}
	table.Row("matmul parallelism", fmt.Sprintf("%d", registry.Matmul.MaxParallelism()))
	if registry.Vendor != nil {
		table.Row("library", registry.Vendor.Library().Name())
		subs := registry.KnownSubAlgorithms()
		names := make([]string, len(subs))
		for i, sub := range subs {
			names[i] = sub.Name
		}
		table.Row("sub-algorithms", strings.Join(names, ", "))
	}
	fmt.Println(table.Render())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// reportAlgorithms prints every algorithm of the registry, and returns the ones usable within the budget.
func reportAlgorithms(registry *convbwdfilter.Registry, d *convbwdfilter.Descriptor, budget uint64) []convbwdfilter.Algorithm {
	fmt.Println(titleStyle.Render("Algorithms"))
	table := newPlainTable(true)
	table.Row("Name", "Vendor", "Reproducible", "Available", "Workspace", "Usable")
	for _, algo := range registry.All() {
		available := algo.IsAvailable(d)
		workspace := "-"
		if available {
			size, err := algo.WorkspaceInBytes(d)
			if err != nil {
				klog.Warningf("%s: %+v", algo.Name(), err)
				workspace = "error"
			} else {
				workspace = humanize.Bytes(size)
			}
		}
		if available && registry.Vendor != nil && algo == convbwdfilter.Algorithm(registry.Vendor) {
			if sub, found, err := registry.Vendor.SubAlgorithm(d); err == nil && found {
				workspace += " (" + sub.Name + ")"
			}
		}
		table.Row(algo.Name(), yesNo(algo.IsVendorBacked()), yesNo(algo.IsReproducible()), yesNo(available),
			workspace, yesNo(convbwdfilter.IsAvailableReproducible(algo, d, *flagReproducible, budget)))
	}
	fmt.Println(table.Render())
	usable := registry.Available(d, *flagReproducible, budget)
	if registry.Vendor != nil {
		subs, workspaces := registry.Vendor.CacheStats()
		klog.V(1).Infof("%s caches: sub-algorithms %+v, workspaces %+v", registry.Vendor.Name(), subs, workspaces)
	}
	return usable
}
