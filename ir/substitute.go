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

// VarMap maps Vars to replacement Vars, keyed by identity: lookups ignore display
// names, so the map stays correct after collision-avoidance renames.
type VarMap struct {
	m map[VarID]*Var
}

// NewVarMap creates an empty VarMap.
func NewVarMap() VarMap {
	return VarMap{m: make(map[VarID]*Var)}
}

// Set maps from to its replacement to. Setting the same source again overwrites.
func (vm VarMap) Set(from, to *Var) {
	vm.m[from.ID()] = to
}

// Lookup returns the replacement of v, if any.
func (vm VarMap) Lookup(v *Var) (*Var, bool) {
	to, found := vm.m[v.ID()]
	return to, found
}

// Len returns the number of mapped Vars.
func (vm VarMap) Len() int { return len(vm.m) }

// VisitVars calls fn on every Var referenced by expr, in a stable left-to-right order.
// A Var referenced more than once is visited more than once.
func VisitVars(expr Expr, fn func(v *Var)) {
	switch e := expr.(type) {
	case *Var:
		fn(e)
	case *Call:
		for _, arg := range e.Args {
			VisitVars(arg, fn)
		}
	case *Tuple:
		for _, element := range e.Elements {
			VisitVars(element, fn)
		}
	case *TupleGetItem:
		VisitVars(e.Tuple, fn)
	case *Constant, *GlobalVar, nil:
		// No Var references.
	}
}

// SubstituteVars returns expr with every Var reference present in vm replaced, by
// identity, with its mapped Var. Sub-expressions without replacements are returned
// unchanged (shared, not copied).
func SubstituteVars(expr Expr, vm VarMap) Expr {
	switch e := expr.(type) {
	case *Var:
		if to, found := vm.Lookup(e); found {
			return to
		}
		return e
	case *Call:
		args, changed := substituteAll(e.Args, vm)
		if !changed {
			return e
		}
		return &Call{Op: e.Op, Args: args, Attrs: e.Attrs.Clone(), shape: e.shape}
	case *Tuple:
		elements, changed := substituteAll(e.Elements, vm)
		if !changed {
			return e
		}
		return &Tuple{Elements: elements}
	case *TupleGetItem:
		tuple := SubstituteVars(e.Tuple, vm)
		if tuple == e.Tuple {
			return e
		}
		return &TupleGetItem{Tuple: tuple, Index: e.Index}
	default:
		return expr
	}
}

func substituteAll(exprs []Expr, vm VarMap) (result []Expr, changed bool) {
	result = make([]Expr, len(exprs))
	for ii, e := range exprs {
		result[ii] = SubstituteVars(e, vm)
		changed = changed || result[ii] != e
	}
	if !changed {
		return exprs, false
	}
	return result, true
}
