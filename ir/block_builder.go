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

package ir

import (
	"fmt"

	"github.com/LeshengJin/mlc-relax/types/shapes"
	"github.com/gomlx/exceptions"
)

// BlockBuilder incrementally builds one DataflowBlock, keeping display names unique
// within the block (and against the enclosing function's parameters).
//
// Structural misuse panics with an error value (see package documentation); callers
// building IR on behalf of a pass convert those to errors at the pass boundary with
// exceptions.TryCatch.
type BlockBuilder struct {
	usedNames map[string]bool
	bindings  []Binding
	outputs   []*Var
	built     bool
}

// NewBlockBuilder creates a BlockBuilder for the body of a function with the given
// parameters: parameter names are reserved, so emitted bindings never shadow them.
func NewBlockBuilder(params ...*Var) *BlockBuilder {
	bb := &BlockBuilder{usedNames: make(map[string]bool, len(params))}
	for _, p := range params {
		bb.usedNames[p.Name()] = true
	}
	return bb
}

// NewVar allocates a Var with a fresh identity and a display name derived from
// nameHint, disambiguated against every name already used in the block. The name is
// reserved but the Var is not bound; use Emit (or Bind) to bind values.
func (bb *BlockBuilder) NewVar(nameHint string, shape shapes.Shape) *Var {
	return NewVar(bb.uniqueName(nameHint), shape)
}

// Emit appends the binding of value to a freshly allocated Var named after nameHint,
// and returns that Var.
func (bb *BlockBuilder) Emit(value Expr, nameHint string) *Var {
	bb.checkNotBuilt("Emit")
	v := bb.NewVar(nameHint, value.Shape())
	bb.bindings = append(bb.bindings, Binding{Var: v, Value: value})
	return v
}

// Bind appends the binding of value to a Var allocated by this builder's NewVar. It
// exists for callers that need the Var's identity before its value, notably when
// building substitution maps during a splice.
func (bb *BlockBuilder) Bind(v *Var, value Expr) {
	bb.checkNotBuilt("Bind")
	if !bb.usedNames[v.Name()] {
		exceptions.Panicf("BlockBuilder.Bind(%q): the Var was not allocated by this builder's NewVar", v.Name())
	}
	for _, binding := range bb.bindings {
		if binding.Var.Same(v) {
			exceptions.Panicf("BlockBuilder.Bind(%q): the Var is already bound in this block", v.Name())
		}
	}
	bb.bindings = append(bb.bindings, Binding{Var: v, Value: value})
}

// EmitTEKernel appends a call to the named external tensor-expression kernel, taking
// the output-gradient value followed by args, with attrs forwarded verbatim. The
// result shape annotation is taken from outputGrad: a backward kernel produces a value
// shaped like the input it differentiates, which callers fix up via attrs when that
// default is wrong.
//
// It returns a new Var bound to the emitted result. This is the emission service
// consumed by registered gradient handlers (see the training package).
func (bb *BlockBuilder) EmitTEKernel(kernel string, outputGrad Expr, args []Expr, attrs Attrs) *Var {
	bb.checkNotBuilt("EmitTEKernel")
	callArgs := make([]Expr, 0, len(args)+1)
	callArgs = append(callArgs, outputGrad)
	callArgs = append(callArgs, args...)
	call := NewCall(kernel, outputGrad.Shape(), callArgs...).WithAttrs(attrs.Clone())
	return bb.Emit(call, kernel)
}

// EmitOutput declares v as an output of the block, visible outside it. The Var must be
// bound in this block.
func (bb *BlockBuilder) EmitOutput(v *Var) *Var {
	bb.checkNotBuilt("EmitOutput")
	bound := false
	for _, binding := range bb.bindings {
		if binding.Var.Same(v) {
			bound = true
			break
		}
	}
	if !bound {
		exceptions.Panicf("BlockBuilder.EmitOutput(%q): the Var is not bound in this block", v.Name())
	}
	bb.outputs = append(bb.outputs, v)
	return v
}

// Build returns the finished DataflowBlock. The builder cannot be used afterward.
func (bb *BlockBuilder) Build() *DataflowBlock {
	bb.checkNotBuilt("Build")
	bb.built = true
	return &DataflowBlock{Bindings: bb.bindings, Outputs: bb.outputs}
}

func (bb *BlockBuilder) checkNotBuilt(op string) {
	if bb.built {
		exceptions.Panicf("BlockBuilder.%s: the block was already built", op)
	}
}

// uniqueName returns nameHint if unused in the block, otherwise the first of
// nameHint_1, nameHint_2, ... that is free. The returned name is reserved.
func (bb *BlockBuilder) uniqueName(nameHint string) string {
	if nameHint == "" {
		nameHint = "lv"
	}
	name := nameHint
	for suffix := 1; bb.usedNames[name]; suffix++ {
		name = fmt.Sprintf("%s_%d", nameHint, suffix)
	}
	bb.usedNames[name] = true
	return name
}
