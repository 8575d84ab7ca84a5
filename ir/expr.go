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

// Package ir defines the dataflow intermediate representation (IR) manipulated by the
// transformation passes in this module, and the BlockBuilder used to construct it.
//
// The main elements of the package are:
//
//   - Expr: an expression in the IR. Concrete expressions are Var, Call, Tuple,
//     TupleGetItem, Constant and GlobalVar. Every expression carries a static shape
//     annotation (see the shapes package), known at IR construction time.
//
//   - Var: a named, immutable reference to the value produced by a binding or passed as
//     a function parameter. Vars carry a stable identity separate from their display
//     name: two Vars with the same name are not interchangeable, and renaming a Var
//     never changes its identity. All substitutions in this package are by identity.
//
//   - DataflowBlock: a straight-line sequence of bindings (`name := expr`) with no
//     control flow, ending in a declared subset of output Vars.
//
//   - Function: typed parameters, a body of dataflow blocks (passes in this module
//     require exactly one), and a return expression.
//
//   - Module: an ordered collection of named functions. Transformation passes consume
//     one Module and produce a new one; Functions are immutable once built and are
//     shared, never mutated, between the input and output Modules.
//
// IR construction errors are reported with panics carrying an error value with a stack
// trace (see github.com/gomlx/exceptions); pass entry points convert them back to
// ordinary errors with exceptions.TryCatch.
package ir

import (
	"fmt"
	"strings"

	"github.com/LeshengJin/mlc-relax/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
)

// Expr is an expression of the dataflow IR. It is implemented by Var, Call, Tuple,
// TupleGetItem, Constant and GlobalVar only.
type Expr interface {
	fmt.Stringer

	// Shape returns the static shape annotation of the value this expression evaluates to.
	Shape() shapes.Shape

	// exprNode seals the interface to the implementations in this package.
	exprNode()
}

// VarID is the stable, opaque identity of a Var. It is preserved across renames, so
// substitution maps built before a rename remain correct after it.
type VarID = uuid.UUID

// Var is an immutable named reference with a static shape annotation.
//
// Identity matters for substitution: two distinct Vars with the same display name are
// not interchangeable. Create fresh Vars with NewVar, and renamed aliases of an
// existing Var with WithName.
type Var struct {
	id    VarID
	name  string
	shape shapes.Shape
}

// NewVar creates a Var with a fresh identity, the given display name and shape
// annotation.
func NewVar(name string, shape shapes.Shape) *Var {
	return &Var{id: uuid.New(), name: name, shape: shape}
}

// ID returns the stable identity of the Var.
func (v *Var) ID() VarID { return v.id }

// Name returns the display name of the Var.
func (v *Var) Name() string { return v.name }

// WithName returns a Var with the same identity and shape, but the given display name.
// Substitution maps keyed by identity remain valid for the returned Var.
func (v *Var) WithName(name string) *Var {
	return &Var{id: v.id, name: name, shape: v.shape}
}

// Same reports whether both Vars refer to the same identity, regardless of their
// display names.
func (v *Var) Same(other *Var) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.id == other.id
}

// Shape returns the static shape annotation of the Var.
func (v *Var) Shape() shapes.Shape { return v.shape }

// String implements fmt.Stringer: it prints the display name only.
func (v *Var) String() string { return v.name }

func (v *Var) exprNode() {}

// Attrs is a string-keyed bag of call attributes, forwarded verbatim by the IR: the
// meaning of each key belongs to the operator (or to the pass consuming it).
type Attrs map[string]any

// Clone returns a shallow copy of the attributes.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	c := make(Attrs, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Attribute keys used by calls that carry a custom tensor-expression gradient
// (the call_tir_with_grad form). See the training package.
const (
	// AttrTEGradName holds the string key under which the gradient handler was
	// registered.
	AttrTEGradName = "te_grad_name"

	// AttrTEGradKwargs holds an Attrs bag forwarded verbatim to the gradient handler.
	AttrTEGradKwargs = "te_grad_kwargs"
)

// OpCallTIRWithGrad is the operator of calls annotated with a custom gradient: the
// first argument is the GlobalVar of the forward kernel, the second a Tuple with the
// kernel arguments.
const OpCallTIRWithGrad = "call_tir_with_grad"

// Call is the application of a named operator to argument expressions, with an
// optional attribute bag. The result shape is an annotation fixed at construction.
type Call struct {
	Op    string
	Args  []Expr
	Attrs Attrs

	shape shapes.Shape
}

// NewCall creates a Call of the operator with the given result shape annotation and
// arguments.
func NewCall(op string, shape shapes.Shape, args ...Expr) *Call {
	return &Call{Op: op, Args: args, shape: shape}
}

// WithAttrs returns the same Call with the attribute bag set. It returns the receiver
// to allow chaining during construction, before the Call is bound into a block.
func (c *Call) WithAttrs(attrs Attrs) *Call {
	c.Attrs = attrs
	return c
}

// Shape returns the result shape annotation of the call.
func (c *Call) Shape() shapes.Shape { return c.shape }

// TIRArgs returns the forward arguments of a call in the call_tir_with_grad form: the
// elements of the argument tuple, excluding the kernel GlobalVar. For plain calls it
// returns Args unchanged.
func (c *Call) TIRArgs() []Expr {
	if len(c.Args) >= 2 {
		if tuple, ok := c.Args[1].(*Tuple); ok {
			if _, isGlobal := c.Args[0].(*GlobalVar); isGlobal {
				return tuple.Elements
			}
		}
	}
	return c.Args
}

// String implements fmt.Stringer.
func (c *Call) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		parts = append(parts, arg.String())
	}
	return fmt.Sprintf("%s(%s)", c.Op, strings.Join(parts, ", "))
}

func (c *Call) exprNode() {}

// Tuple is an ordered collection of expressions, usually used as a multi-value return.
type Tuple struct {
	Elements []Expr
}

// NewTuple creates a Tuple with the given elements.
func NewTuple(elements ...Expr) *Tuple {
	return &Tuple{Elements: elements}
}

// Shape returns the tuple shape assembled from the element shapes.
func (t *Tuple) Shape() shapes.Shape {
	elements := make([]shapes.Shape, 0, len(t.Elements))
	for _, e := range t.Elements {
		elements = append(elements, e.Shape())
	}
	return shapes.MakeTuple(elements)
}

// String implements fmt.Stringer.
func (t *Tuple) String() string {
	parts := make([]string, 0, len(t.Elements))
	for _, e := range t.Elements {
		parts = append(parts, e.String())
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
}

func (t *Tuple) exprNode() {}

// TupleGetItem projects one element out of a tuple-valued expression.
type TupleGetItem struct {
	Tuple Expr
	Index int
}

// NewTupleGetItem creates the projection of element index out of tuple.
func NewTupleGetItem(tuple Expr, index int) *TupleGetItem {
	shape := tuple.Shape()
	if !shape.IsTuple() || index < 0 || index >= shape.TupleSize() {
		exceptions.Panicf("ir.NewTupleGetItem(%s, %d): expression is not a tuple with at least %d elements (shape=%s)",
			tuple, index, index+1, shape)
	}
	return &TupleGetItem{Tuple: tuple, Index: index}
}

// Shape returns the shape of the projected element.
func (t *TupleGetItem) Shape() shapes.Shape { return t.Tuple.Shape().TupleShapes[t.Index] }

// String implements fmt.Stringer.
func (t *TupleGetItem) String() string { return fmt.Sprintf("%s[%d]", t.Tuple, t.Index) }

func (t *TupleGetItem) exprNode() {}

// Constant is a scalar literal with a dtype, enough to express the constants that show
// up in loss graphs (margins, scaling factors).
type Constant struct {
	Value float64

	shape shapes.Shape
}

// NewConstant creates a scalar Constant with the given shape annotation, which must be
// scalar.
func NewConstant(value float64, shape shapes.Shape) *Constant {
	if !shape.IsScalar() {
		exceptions.Panicf("ir.NewConstant(%v, %s): constants must be scalar", value, shape)
	}
	return &Constant{Value: value, shape: shape}
}

// Shape returns the scalar shape annotation of the constant.
func (c *Constant) Shape() shapes.Shape { return c.shape }

// String implements fmt.Stringer.
func (c *Constant) String() string { return fmt.Sprintf("%v%s", c.Value, c.shape) }

func (c *Constant) exprNode() {}

// GlobalVar is a reference to a function of the enclosing Module (or to an external
// kernel) by name. It carries no shape of its own.
type GlobalVar struct {
	Name string
}

// NewGlobalVar creates a reference to the function or kernel with the given name.
func NewGlobalVar(name string) *GlobalVar { return &GlobalVar{Name: name} }

// Shape returns an invalid shape: global references are not first-class values here.
func (g *GlobalVar) Shape() shapes.Shape { return shapes.Invalid() }

// String implements fmt.Stringer.
func (g *GlobalVar) String() string { return "@" + g.Name }

func (g *GlobalVar) exprNode() {}
