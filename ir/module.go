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
	"strings"

	"github.com/pkg/errors"
)

// ErrDuplicateFunction is reported when adding a function to a Module under a name
// that is already taken.
var ErrDuplicateFunction = errors.New("a function with the same name is already defined in the module")

// Module is an ordered collection of named functions, the unit that transformation
// passes consume and produce.
type Module struct {
	order []string
	funcs map[string]*Function
}

// NewModule creates a Module holding the given functions, in order. It fails with
// ErrDuplicateFunction if two functions share a name.
func NewModule(fns ...*Function) (*Module, error) {
	m := &Module{funcs: make(map[string]*Function, len(fns))}
	for _, f := range fns {
		if err := m.Add(f); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add inserts the function into the module. It fails with ErrDuplicateFunction if the
// name is already taken.
func (m *Module) Add(f *Function) error {
	if _, found := m.funcs[f.Name]; found {
		return errors.Wrapf(ErrDuplicateFunction, "cannot add function %q", f.Name)
	}
	m.order = append(m.order, f.Name)
	m.funcs[f.Name] = f
	return nil
}

// Get returns the function with the given name, if present.
func (m *Module) Get(name string) (*Function, bool) {
	f, found := m.funcs[name]
	return f, found
}

// NumFunctions returns the number of functions in the module.
func (m *Module) NumFunctions() int { return len(m.order) }

// Functions returns the functions in insertion order.
func (m *Module) Functions() []*Function {
	fns := make([]*Function, 0, len(m.order))
	for _, name := range m.order {
		fns = append(fns, m.funcs[name])
	}
	return fns
}

// Clone returns a new Module with the same functions: the function table is copied,
// the Functions themselves are shared (they are immutable by convention).
func (m *Module) Clone() *Module {
	clone := &Module{
		order: append([]string(nil), m.order...),
		funcs: make(map[string]*Function, len(m.funcs)),
	}
	for name, f := range m.funcs {
		clone.funcs[name] = f
	}
	return clone
}

// String prints every function of the module in insertion order.
func (m *Module) String() string {
	parts := make([]string, 0, len(m.order))
	for _, f := range m.Functions() {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "\n\n")
}
