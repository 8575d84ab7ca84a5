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
	"strings"

	"github.com/pkg/errors"
)

// Binding gives a name to the value of an expression inside a DataflowBlock:
// `Var := Value`.
type Binding struct {
	Var   *Var
	Value Expr
}

// String implements fmt.Stringer.
func (b Binding) String() string {
	return fmt.Sprintf("%s: %s = %s", b.Var, b.Var.Shape(), b.Value)
}

// DataflowBlock is a straight-line sequence of bindings with no control flow, ending
// in the declared subset of Vars visible outside the block.
type DataflowBlock struct {
	Bindings []Binding
	Outputs  []*Var
}

// FindBinding returns the binding of the given Var (by identity), or nil if the Var is
// not bound in this block.
func (b *DataflowBlock) FindBinding(v *Var) *Binding {
	for ii := range b.Bindings {
		if b.Bindings[ii].Var.Same(v) {
			return &b.Bindings[ii]
		}
	}
	return nil
}

// Function is a dataflow program: ordered typed parameters, a body of dataflow blocks
// and a return expression (a Var or a Tuple of Vars).
//
// Functions are immutable by convention: passes never modify a Function in place, they
// build new ones.
type Function struct {
	Name   string
	Params []*Var
	Blocks []*DataflowBlock
	Ret    Expr
}

// NewFunction assembles a Function. It does not check well-formedness; see
// Function.Check.
func NewFunction(name string, params []*Var, block *DataflowBlock, ret Expr) *Function {
	return &Function{Name: name, Params: params, Blocks: []*DataflowBlock{block}, Ret: ret}
}

// Body returns the single dataflow block of the function, or an error if the function
// does not have exactly one block.
func (f *Function) Body() (*DataflowBlock, error) {
	if len(f.Blocks) != 1 {
		return nil, errors.Errorf("function %q must have exactly one dataflow block, it has %d", f.Name, len(f.Blocks))
	}
	return f.Blocks[0], nil
}

// ReturnVars returns the Vars of the return expression as a list: a singleton for a
// Var return, the elements for a Tuple of Vars. It fails if the return expression is
// anything else.
func (f *Function) ReturnVars() ([]*Var, error) {
	switch ret := f.Ret.(type) {
	case *Var:
		return []*Var{ret}, nil
	case *Tuple:
		vars := make([]*Var, 0, len(ret.Elements))
		for ii, e := range ret.Elements {
			v, ok := e.(*Var)
			if !ok {
				return nil, errors.Errorf("function %q return tuple element %d is not a Var (%T)", f.Name, ii, e)
			}
			vars = append(vars, v)
		}
		return vars, nil
	default:
		return nil, errors.Errorf("function %q return expression must be a Var or a tuple of Vars, got %T", f.Name, f.Ret)
	}
}

// Check verifies the well-formedness of the function: a single dataflow block; every
// Var referenced by a binding bound earlier in the block or a parameter; unique
// display names within the block; declared outputs bound in the block; and the return
// expression referring only to parameters and outputs.
func (f *Function) Check() error {
	block, err := f.Body()
	if err != nil {
		return err
	}

	inScope := make(map[VarID]bool, len(f.Params)+len(block.Bindings))
	usedNames := make(map[string]bool, len(f.Params)+len(block.Bindings))
	for _, p := range f.Params {
		if usedNames[p.Name()] {
			return errors.Errorf("function %q has duplicate parameter name %q", f.Name, p.Name())
		}
		inScope[p.ID()] = true
		usedNames[p.Name()] = true
	}

	for ii, binding := range block.Bindings {
		var free *Var
		VisitVars(binding.Value, func(v *Var) {
			if free == nil && !inScope[v.ID()] {
				free = v
			}
		})
		if free != nil {
			return errors.Errorf("function %q binding #%d (%s) references %q before it is bound",
				f.Name, ii, binding.Var, free)
		}
		if usedNames[binding.Var.Name()] {
			return errors.Errorf("function %q binds name %q more than once in its dataflow block",
				f.Name, binding.Var.Name())
		}
		inScope[binding.Var.ID()] = true
		usedNames[binding.Var.Name()] = true
	}

	bound := make(map[VarID]bool, len(block.Bindings))
	for _, binding := range block.Bindings {
		bound[binding.Var.ID()] = true
	}
	for _, out := range block.Outputs {
		if !bound[out.ID()] {
			return errors.Errorf("function %q declares output %q which is not bound in its dataflow block",
				f.Name, out)
		}
	}

	visible := make(map[VarID]bool, len(f.Params)+len(block.Outputs))
	for _, p := range f.Params {
		visible[p.ID()] = true
	}
	for _, out := range block.Outputs {
		visible[out.ID()] = true
	}
	var escaped *Var
	VisitVars(f.Ret, func(v *Var) {
		if escaped == nil && !visible[v.ID()] {
			escaped = v
		}
	})
	if escaped != nil {
		return errors.Errorf("function %q returns %q, which is neither a parameter nor a declared block output",
			f.Name, escaped)
	}
	return nil
}

// String prints the function in the textual IR form.
func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, fmt.Sprintf("%s: %s", p, p.Shape()))
	}
	fmt.Fprintf(&sb, "def %s(%s):\n", f.Name, strings.Join(params, ", "))
	for _, block := range f.Blocks {
		sb.WriteString("  with dataflow:\n")
		for _, binding := range block.Bindings {
			fmt.Fprintf(&sb, "    %s\n", binding)
		}
		outputs := make([]string, 0, len(block.Outputs))
		for _, out := range block.Outputs {
			outputs = append(outputs, out.String())
		}
		fmt.Fprintf(&sb, "    output %s\n", strings.Join(outputs, ", "))
	}
	fmt.Fprintf(&sb, "  return %s", f.Ret)
	return sb.String()
}
