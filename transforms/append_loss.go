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

package transforms

import (
	"fmt"

	"github.com/LeshengJin/mlc-relax/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StructuralError reports that a function handed to a transformation violates one of
// the pass's structural restrictions. It always aborts the pass: these are input
// errors, never retried.
type StructuralError struct {
	// Func is the name of the offending function.
	Func string

	// Restriction describes the violated restriction.
	Restriction string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("function %q %s", e.Func, e.Restriction)
}

// structuralErrorf builds a StructuralError for function fn with a stack trace.
func structuralErrorf(fn string, format string, args ...any) error {
	return errors.WithStack(&StructuralError{Func: fn, Restriction: fmt.Sprintf(format, args...)})
}

// AppendLoss returns a pass that splices the loss function onto the backbone function
// named funcName, producing their composition as a new function added alongside the
// backbone.
//
// The backbone and the loss must satisfy a few restrictions:
//   - both contain exactly one dataflow block;
//   - the backbone returns either one Var or a tuple of Vars;
//   - the loss returns a scalar (rank-0) Var.
//
// The first numBackboneOutputs return values of the backbone ("prediction outputs")
// are fed to the loss's leading parameters, which must match them in shape. The
// remaining loss parameters (targets, labels) become new trailing parameters of the
// result, and the remaining backbone return values ("carried outputs", e.g. updated
// running statistics) are forwarded unchanged after the loss value.
//
// The result is named newFuncName, or funcName+"_loss" when newFuncName is empty. It
// computes all bindings of the backbone followed by all bindings of the loss, with
// loss-side names renamed where they would collide, and returns
// `(loss, carried outputs...)` -- the loss Var alone when there are no carried
// outputs.
//
// The pass fails with a StructuralError when a restriction above (or any arity
// mismatch around numBackboneOutputs) is violated, and with ir.ErrDuplicateFunction
// when the chosen name is already taken. Both input functions are left untouched in
// either case.
func AppendLoss(funcName string, lossFn *ir.Function, numBackboneOutputs int, newFuncName string) Pass {
	name := fmt.Sprintf("AppendLoss(%s)", funcName)
	return ModulePass(name, func(mod *ir.Module) (*ir.Module, error) {
		return appendLoss(mod, funcName, lossFn, numBackboneOutputs, newFuncName)
	})
}

func appendLoss(mod *ir.Module, funcName string, lossFn *ir.Function, numBackboneOutputs int, newFuncName string) (*ir.Module, error) {
	backbone, found := mod.Get(funcName)
	if !found {
		return nil, errors.Errorf("AppendLoss: no function named %q in the module", funcName)
	}
	if numBackboneOutputs < 1 {
		return nil, errors.Errorf("AppendLoss: numBackboneOutputs must be at least 1, got %d", numBackboneOutputs)
	}

	// Structural restrictions on the two functions.
	if len(backbone.Blocks) != 1 {
		return nil, structuralErrorf(backbone.Name, "must contain exactly one dataflow block, it has %d", len(backbone.Blocks))
	}
	if len(lossFn.Blocks) != 1 {
		return nil, structuralErrorf(lossFn.Name, "must contain exactly one dataflow block, it has %d", len(lossFn.Blocks))
	}
	lossRet, ok := lossFn.Ret.(*ir.Var)
	if !ok {
		return nil, structuralErrorf(lossFn.Name, "must return a single Var, it returns %T", lossFn.Ret)
	}
	if !lossRet.Shape().IsScalar() {
		return nil, structuralErrorf(lossFn.Name, "must return a scalar (rank-0) Var, %q has shape %s", lossRet, lossRet.Shape())
	}
	backboneRets, err := backbone.ReturnVars()
	if err != nil {
		return nil, structuralErrorf(backbone.Name, "must return one Var or a tuple of Vars: %v", err)
	}
	if numBackboneOutputs > len(backboneRets) {
		return nil, structuralErrorf(backbone.Name, "returns %d values, fewer than numBackboneOutputs=%d",
			len(backboneRets), numBackboneOutputs)
	}
	if numBackboneOutputs > len(lossFn.Params) {
		return nil, structuralErrorf(lossFn.Name, "takes %d parameters, fewer than numBackboneOutputs=%d",
			len(lossFn.Params), numBackboneOutputs)
	}
	if err = backbone.Check(); err != nil {
		return nil, errors.WithMessagef(err, "AppendLoss: backbone %q is not well-formed", backbone.Name)
	}
	if err = lossFn.Check(); err != nil {
		return nil, errors.WithMessagef(err, "AppendLoss: loss %q is not well-formed", lossFn.Name)
	}

	predictions := backboneRets[:numBackboneOutputs]
	carried := backboneRets[numBackboneOutputs:]
	for ii, p := range lossFn.Params[:numBackboneOutputs] {
		if !p.Shape().Equal(predictions[ii].Shape()) {
			return nil, structuralErrorf(lossFn.Name,
				"parameter %q has shape %s, but the corresponding backbone prediction output %q has shape %s",
				p, p.Shape(), predictions[ii], predictions[ii].Shape())
		}
	}

	// The result is assembled from entirely fresh Vars: remap carries old identities
	// (from either input function) to their replacements.
	remap := ir.NewVarMap()
	newParams := make([]*ir.Var, 0, len(backbone.Params)+len(lossFn.Params)-numBackboneOutputs)
	for _, p := range backbone.Params {
		np := ir.NewVar(p.Name(), p.Shape())
		remap.Set(p, np)
		newParams = append(newParams, np)
	}
	bb := ir.NewBlockBuilder(newParams...)

	boundInBlock := make(map[ir.VarID]bool)
	copyBindings := func(block *ir.DataflowBlock) {
		for _, binding := range block.Bindings {
			value := ir.SubstituteVars(binding.Value, remap)
			nv := bb.NewVar(binding.Var.Name(), binding.Var.Shape())
			bb.Bind(nv, value)
			remap.Set(binding.Var, nv)
			boundInBlock[nv.ID()] = true
		}
	}

	// Backbone body first, then the loss body with its prediction parameters replaced
	// by the backbone's prediction outputs.
	copyBindings(backbone.Blocks[0])
	for ii, p := range lossFn.Params[:numBackboneOutputs] {
		pred, found := remap.Lookup(predictions[ii])
		if !found {
			return nil, structuralErrorf(backbone.Name, "return value %q is neither a parameter nor bound in its dataflow block", predictions[ii])
		}
		remap.Set(p, pred)
	}
	for _, p := range lossFn.Params[numBackboneOutputs:] {
		np := bb.NewVar(p.Name(), p.Shape())
		remap.Set(p, np)
		newParams = append(newParams, np)
	}
	copyBindings(lossFn.Blocks[0])

	// Block outputs: the loss value, then the carried backbone outputs in their
	// original order. Values the result forwards directly from its parameters are
	// already visible and are not declared as block outputs.
	newLossRet, _ := remap.Lookup(lossRet)
	if boundInBlock[newLossRet.ID()] {
		bb.EmitOutput(newLossRet)
	}
	newCarried := make([]*ir.Var, 0, len(carried))
	for _, c := range carried {
		nc, found := remap.Lookup(c)
		if !found {
			return nil, structuralErrorf(backbone.Name, "return value %q is neither a parameter nor bound in its dataflow block", c)
		}
		if boundInBlock[nc.ID()] {
			bb.EmitOutput(nc)
		}
		newCarried = append(newCarried, nc)
	}

	var ret ir.Expr = newLossRet
	if len(newCarried) > 0 {
		elements := make([]ir.Expr, 0, len(newCarried)+1)
		elements = append(elements, newLossRet)
		for _, c := range newCarried {
			elements = append(elements, c)
		}
		ret = ir.NewTuple(elements...)
	}

	name := newFuncName
	if name == "" {
		name = funcName + "_loss"
	}
	newFn := ir.NewFunction(name, newParams, bb.Build(), ret)

	out := mod.Clone()
	if err = out.Add(newFn); err != nil {
		return nil, err
	}
	klog.V(1).Infof("AppendLoss: spliced %q and %q into %q (%d parameters, %d bindings, %d carried outputs)",
		backbone.Name, lossFn.Name, name, len(newParams), len(newFn.Blocks[0].Bindings), len(newCarried))
	return out, nil
}
