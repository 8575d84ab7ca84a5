/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package transforms_test

import (
	"testing"

	"github.com/LeshengJin/mlc-relax/ir"
	. "github.com/LeshengJin/mlc-relax/transforms"
	"github.com/LeshengJin/mlc-relax/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// Aliases:

	MakeShape = shapes.Make
	F32       = dtypes.Float32
)

var predictShape = MakeShape(F32, 2, 4)

// buildPredict returns `predict(x, y) = add(x, y) -> out`, declared output out.
func buildPredict() *ir.Function {
	x := ir.NewVar("x", predictShape)
	y := ir.NewVar("y", predictShape)
	bb := ir.NewBlockBuilder(x, y)
	out := bb.Emit(ir.NewCall("add", predictShape, x, y), "out")
	bb.EmitOutput(out)
	return ir.NewFunction("predict", []*ir.Var{x, y}, bb.Build(), out)
}

// buildPredictWithState returns a backbone with one prediction output and one carried
// state output: `predict(x, state) -> (out, new_state)`.
func buildPredictWithState() *ir.Function {
	x := ir.NewVar("x", predictShape)
	state := ir.NewVar("state", predictShape)
	bb := ir.NewBlockBuilder(x, state)
	out := bb.Emit(ir.NewCall("add", predictShape, x, state), "out")
	newState := bb.Emit(ir.NewCall("multiply", predictShape, state, x), "new_state")
	bb.EmitOutput(out)
	bb.EmitOutput(newState)
	return ir.NewFunction("predict", []*ir.Var{x, state}, bb.Build(), ir.NewTuple(out, newState))
}

// buildLoss returns `loss(predictions, labels)`: squared error reduced to a scalar gv.
func buildLoss() *ir.Function {
	predictions := ir.NewVar("predictions", predictShape)
	labels := ir.NewVar("labels", predictShape)
	bb := ir.NewBlockBuilder(predictions, labels)
	lv := bb.Emit(ir.NewCall("subtract", predictShape, predictions, labels), "lv")
	lv1 := bb.Emit(ir.NewCall("multiply", predictShape, lv, lv), "lv1")
	gv := bb.Emit(ir.NewCall("sum", MakeShape(F32), lv1), "gv")
	bb.EmitOutput(gv)
	return ir.NewFunction("loss", []*ir.Var{predictions, labels}, bb.Build(), gv)
}

func apply(t *testing.T, mod *ir.Module, pass Pass) *ir.Module {
	out, err := pass.Apply(mod)
	require.NoError(t, err)
	return out
}

func TestAppendLoss(t *testing.T) {
	predict := buildPredict()
	lossFn := buildLoss()
	mod, err := ir.NewModule(predict)
	require.NoError(t, err)

	before := mod.String()
	lossBefore := lossFn.String()

	out := apply(t, mod, AppendLoss("predict", lossFn, 1, ""))

	// The original function is kept, the new one added alongside it.
	assert.Equal(t, 2, out.NumFunctions())
	_, found := out.Get("predict")
	assert.True(t, found)
	result, found := out.Get("predict_loss")
	require.True(t, found)
	require.NoError(t, result.Check())

	// Parameters: backbone's, then the loss-only extras.
	require.Len(t, result.Params, 3)
	assert.Equal(t, "x", result.Params[0].Name())
	assert.Equal(t, "y", result.Params[1].Name())
	assert.Equal(t, "labels", result.Params[2].Name())
	assert.True(t, result.Params[2].Shape().Equal(predictShape))

	// Body: backbone bindings then loss bindings, with the loss's predictions
	// parameter replaced by the backbone output.
	block := result.Blocks[0]
	require.Len(t, block.Bindings, 4)
	assert.Equal(t, "out", block.Bindings[0].Var.Name())
	assert.Equal(t, "lv", block.Bindings[1].Var.Name())
	assert.Equal(t, "lv1", block.Bindings[2].Var.Name())
	assert.Equal(t, "gv", block.Bindings[3].Var.Name())

	subtract := block.Bindings[1].Value.(*ir.Call)
	assert.Equal(t, "subtract", subtract.Op)
	assert.True(t, subtract.Args[0].(*ir.Var).Same(block.Bindings[0].Var), "predictions must be substituted by the backbone output")
	assert.True(t, subtract.Args[1].(*ir.Var).Same(result.Params[2]), "labels must be substituted by the new parameter")

	// No carried outputs: the return is the scalar loss Var alone, not a 1-tuple.
	retVar, ok := result.Ret.(*ir.Var)
	require.True(t, ok)
	assert.True(t, retVar.Same(block.Bindings[3].Var))
	assert.True(t, retVar.Shape().IsScalar())
	require.Len(t, block.Outputs, 1)
	assert.True(t, block.Outputs[0].Same(retVar))

	// Inputs are never mutated.
	assert.Equal(t, before, mod.String())
	assert.Equal(t, lossBefore, lossFn.String())
}

func TestAppendLossCarriedOutputs(t *testing.T) {
	predict := buildPredictWithState()
	lossFn := buildLoss()
	mod, err := ir.NewModule(predict)
	require.NoError(t, err)

	out := apply(t, mod, AppendLoss("predict", lossFn, 1, ""))
	result, found := out.Get("predict_loss")
	require.True(t, found)
	require.NoError(t, result.Check())

	// len(backbone.params) + len(loss.params) - numBackboneOutputs.
	assert.Len(t, result.Params, 3)

	// Return is (loss, carried...), and the carried output keeps its order and name.
	ret, ok := result.Ret.(*ir.Tuple)
	require.True(t, ok)
	require.Len(t, ret.Elements, 2)
	lossVar := ret.Elements[0].(*ir.Var)
	carried := ret.Elements[1].(*ir.Var)
	assert.True(t, lossVar.Shape().IsScalar())
	assert.Equal(t, "new_state", carried.Name())

	// Block outputs: loss first, then the carried output.
	block := result.Blocks[0]
	require.Len(t, block.Outputs, 2)
	assert.True(t, block.Outputs[0].Same(lossVar))
	assert.True(t, block.Outputs[1].Same(carried))
}

func TestAppendLossRenamesCollisions(t *testing.T) {
	// Backbone that also binds "lv" and "gv", clashing with the loss body.
	x := ir.NewVar("x", predictShape)
	bb := ir.NewBlockBuilder(x)
	lv := bb.Emit(ir.NewCall("exp", predictShape, x), "lv")
	gv := bb.Emit(ir.NewCall("add", predictShape, lv, x), "gv")
	bb.EmitOutput(gv)
	predict := ir.NewFunction("predict", []*ir.Var{x}, bb.Build(), gv)

	mod, err := ir.NewModule(predict)
	require.NoError(t, err)
	out := apply(t, mod, AppendLoss("predict", buildLoss(), 1, ""))
	result, found := out.Get("predict_loss")
	require.True(t, found)
	require.NoError(t, result.Check(), "merged block must keep unique names")

	block := result.Blocks[0]
	names := make(map[string]bool)
	for _, binding := range block.Bindings {
		assert.False(t, names[binding.Var.Name()], "duplicate name %q in merged block", binding.Var.Name())
		names[binding.Var.Name()] = true
	}
	assert.True(t, names["lv"] && names["lv_1"], "the loss's lv must be renamed to lv_1")
	assert.True(t, names["gv"] && names["gv_1"], "the loss's gv must be renamed to gv_1")

	// The renamed Vars are still substituted correctly: lv1 = multiply(lv_1, lv_1).
	var lossSquare *ir.Call
	for _, binding := range block.Bindings {
		if binding.Var.Name() == "lv1" {
			lossSquare = binding.Value.(*ir.Call)
		}
	}
	require.NotNil(t, lossSquare)
	arg := lossSquare.Args[0].(*ir.Var)
	assert.Equal(t, "lv_1", arg.Name())
	assert.True(t, arg.Same(lossSquare.Args[1].(*ir.Var)))
}

func TestAppendLossExplicitNameAndCollision(t *testing.T) {
	mod, err := ir.NewModule(buildPredict())
	require.NoError(t, err)
	lossFn := buildLoss()

	out := apply(t, mod, AppendLoss("predict", lossFn, 1, "first"))
	out = apply(t, out, AppendLoss("predict", lossFn, 1, "second"))
	assert.Equal(t, 3, out.NumFunctions())
	_, found := out.Get("first")
	assert.True(t, found)
	_, found = out.Get("second")
	assert.True(t, found)

	// Same name twice fails with a duplicate-definition error, leaving the module
	// unchanged.
	_, err = AppendLoss("predict", lossFn, 1, "first").Apply(out)
	require.ErrorIs(t, err, ir.ErrDuplicateFunction)
	assert.Equal(t, 3, out.NumFunctions())
}

func TestAppendLossValidation(t *testing.T) {
	lossFn := buildLoss()
	mod, err := ir.NewModule(buildPredict())
	require.NoError(t, err)

	var structural *StructuralError

	// Missing backbone.
	_, err = AppendLoss("nope", lossFn, 1, "").Apply(mod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no function named "nope"`)

	// numBackboneOutputs below 1.
	_, err = AppendLoss("predict", lossFn, 0, "").Apply(mod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numBackboneOutputs")

	// Loss returning a non-scalar Var.
	predictions := ir.NewVar("predictions", predictShape)
	bb := ir.NewBlockBuilder(predictions)
	vec := bb.Emit(ir.NewCall("abs", predictShape, predictions), "vec")
	bb.EmitOutput(vec)
	vecLoss := ir.NewFunction("vec_loss", []*ir.Var{predictions}, bb.Build(), vec)
	_, err = AppendLoss("predict", vecLoss, 1, "").Apply(mod)
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "vec_loss", structural.Func)
	assert.Contains(t, structural.Restriction, "scalar")

	// Loss with two dataflow blocks.
	twoBlocks := buildLoss()
	twoBlocks.Blocks = append(twoBlocks.Blocks, &ir.DataflowBlock{})
	_, err = AppendLoss("predict", twoBlocks, 1, "").Apply(mod)
	require.ErrorAs(t, err, &structural)
	assert.Contains(t, structural.Restriction, "exactly one dataflow block")

	// Backbone with two dataflow blocks.
	badBackbone := buildPredict()
	badBackbone.Blocks = append(badBackbone.Blocks, &ir.DataflowBlock{})
	badMod, err := ir.NewModule(badBackbone)
	require.NoError(t, err)
	_, err = AppendLoss("predict", lossFn, 1, "").Apply(badMod)
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "predict", structural.Func)

	// More prediction outputs requested than the backbone returns.
	_, err = AppendLoss("predict", lossFn, 2, "").Apply(mod)
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "predict", structural.Func)
	assert.Contains(t, structural.Restriction, "fewer than numBackboneOutputs=2")

	// More prediction outputs requested than the loss consumes.
	stateMod, err := ir.NewModule(buildPredictWithState())
	require.NoError(t, err)
	onlyPred := ir.NewVar("predictions", predictShape)
	bb = ir.NewBlockBuilder(onlyPred)
	scalar := bb.Emit(ir.NewCall("sum", MakeShape(F32), onlyPred), "scalar")
	bb.EmitOutput(scalar)
	thinLoss := ir.NewFunction("thin_loss", []*ir.Var{onlyPred}, bb.Build(), scalar)
	_, err = AppendLoss("predict", thinLoss, 2, "").Apply(stateMod)
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "thin_loss", structural.Func)

	// Shape mismatch between prediction output and loss parameter.
	small := ir.NewVar("predictions", MakeShape(F32, 3))
	labels := ir.NewVar("labels", MakeShape(F32, 3))
	bb = ir.NewBlockBuilder(small, labels)
	diff := bb.Emit(ir.NewCall("subtract", MakeShape(F32, 3), small, labels), "diff")
	scalarVar := bb.Emit(ir.NewCall("sum", MakeShape(F32), diff), "scalar")
	bb.EmitOutput(scalarVar)
	mismatched := ir.NewFunction("small_loss", []*ir.Var{small, labels}, bb.Build(), scalarVar)
	_, err = AppendLoss("predict", mismatched, 1, "").Apply(mod)
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "small_loss", structural.Func)
	assert.Contains(t, structural.Restriction, "shape")
}

func TestAppendLossConsumesAllOutputs(t *testing.T) {
	// Both backbone outputs consumed by the loss: zero carried outputs, scalar
	// return.
	predict := buildPredictWithState()
	p0 := ir.NewVar("p0", predictShape)
	p1 := ir.NewVar("p1", predictShape)
	bb := ir.NewBlockBuilder(p0, p1)
	lv := bb.Emit(ir.NewCall("subtract", predictShape, p0, p1), "lv")
	gv := bb.Emit(ir.NewCall("sum", MakeShape(F32), lv), "gv")
	bb.EmitOutput(gv)
	pairLoss := ir.NewFunction("pair_loss", []*ir.Var{p0, p1}, bb.Build(), gv)

	mod, err := ir.NewModule(predict)
	require.NoError(t, err)
	out := apply(t, mod, AppendLoss("predict", pairLoss, 2, ""))
	result, found := out.Get("predict_loss")
	require.True(t, found)
	require.NoError(t, result.Check())

	assert.Len(t, result.Params, 2, "pair_loss adds no extra parameters")
	retVar, ok := result.Ret.(*ir.Var)
	require.True(t, ok, "zero carried outputs must yield a single Var, not a 1-tuple")
	assert.True(t, retVar.Shape().IsScalar())
}

func TestPassName(t *testing.T) {
	pass := AppendLoss("predict", buildLoss(), 1, "")
	assert.Equal(t, "AppendLoss(predict)", pass.Name())

	_, err := ModulePass("boom", func(mod *ir.Module) (*ir.Module, error) {
		return nil, errors.New("some failure")
	}).Apply(&ir.Module{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `pass "boom" failed`)
}
