// Demo of the AppendLoss pass: builds a small module with a prediction function,
// splices a mean-squared-error style loss onto it and prints the module before and
// after, styled for the terminal.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/LeshengJin/mlc-relax/ir"
	"github.com/LeshengJin/mlc-relax/training"
	"github.com/LeshengJin/mlc-relax/types/shapes"
	"github.com/LeshengJin/mlc-relax/ui/display"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var flagPlain = flag.Bool("plain", false, "Print without terminal styling.")

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	mod := must.M1(ir.NewModule(buildPredict()))
	lossFn := buildLoss()

	fmt.Println("Before:")
	show(mod)
	fmt.Println()

	pass := training.AppendLoss("predict", lossFn, 1, "")
	mod = must.M1(pass.Apply(mod))

	fmt.Println("After AppendLoss:")
	show(mod)
}

func show(mod *ir.Module) {
	if *flagPlain {
		fmt.Println(mod)
		return
	}
	must.M(display.Write(os.Stdout, mod))
}

// buildPredict returns `predict(x, y) = add(x, y)`.
func buildPredict() *ir.Function {
	shape := shapes.Make(dtypes.Float32, 2, 4)
	x := ir.NewVar("x", shape)
	y := ir.NewVar("y", shape)
	bb := ir.NewBlockBuilder(x, y)
	out := bb.Emit(ir.NewCall("add", shape, x, y), "out")
	bb.EmitOutput(out)
	return ir.NewFunction("predict", []*ir.Var{x, y}, bb.Build(), out)
}

// buildLoss returns the squared-error loss reduced to a scalar.
func buildLoss() *ir.Function {
	shape := shapes.Make(dtypes.Float32, 2, 4)
	predictions := ir.NewVar("predictions", shape)
	labels := ir.NewVar("labels", shape)
	bb := ir.NewBlockBuilder(predictions, labels)
	lv := bb.Emit(ir.NewCall("subtract", shape, predictions, labels), "lv")
	lv1 := bb.Emit(ir.NewCall("multiply", shape, lv, lv), "lv1")
	gv := bb.Emit(ir.NewCall("sum", shapes.Make(dtypes.Float32), lv1), "gv")
	bb.EmitOutput(gv)
	return ir.NewFunction("loss", []*ir.Var{predictions, labels}, bb.Build(), gv)
}
