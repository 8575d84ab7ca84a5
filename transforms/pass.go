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

// Package transforms holds module-to-module transformation passes over the dataflow IR.
//
// A Pass consumes an ir.Module and produces a new one, never mutating its input: either
// the whole transformation succeeds and a fully formed module is returned, or an error
// is reported and the input is left untouched. Passes keep no state between
// applications, so independent modules can be transformed concurrently.
package transforms

import (
	"github.com/LeshengJin/mlc-relax/ir"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Pass is a named module-to-module transformation.
type Pass interface {
	// Name identifies the pass, for logs and error messages.
	Name() string

	// Apply transforms the module, returning a new one. The input module is never
	// mutated.
	Apply(mod *ir.Module) (*ir.Module, error)
}

// ModulePass wraps fn as a Pass. Panics carrying errors raised during IR construction
// (see the ir package) are converted back to ordinary errors.
func ModulePass(name string, fn func(mod *ir.Module) (*ir.Module, error)) Pass {
	return &modulePass{name: name, fn: fn}
}

type modulePass struct {
	name string
	fn   func(mod *ir.Module) (*ir.Module, error)
}

// Name implements Pass.
func (p *modulePass) Name() string { return p.name }

// Apply implements Pass.
func (p *modulePass) Apply(mod *ir.Module) (*ir.Module, error) {
	var out *ir.Module
	var err error
	if panicErr := exceptions.TryCatch[error](func() { out, err = p.fn(mod) }); panicErr != nil {
		return nil, errors.WithMessagef(panicErr, "pass %q failed", p.name)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "pass %q failed", p.name)
	}
	return out, nil
}
