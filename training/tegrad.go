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

// Package training holds the training-oriented conveniences over the dataflow IR: the
// AppendLoss utility that splices a loss function onto a backbone function, and the
// registry of custom tensor-expression (TE) gradient emitters consulted when
// differentiating call_tir_with_grad calls.
package training

import (
	"slices"
	"sync"

	"github.com/LeshengJin/mlc-relax/ir"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// ComputeFunc emits the backward computation of a custom forward kernel into bb and
// returns the resulting value.
//
// It receives the gradient of the kernel's output, the kernel's forward arguments and
// the keyword-style attribute bag attached to the forward call, forwarded verbatim.
// Most implementations emit a single named external kernel via bb.EmitTEKernel.
type ComputeFunc func(bb *ir.BlockBuilder, outputGrad ir.Expr, args []ir.Expr, attrs ir.Attrs) ir.Expr

// Handler is the form in which gradient emitters are stored: it receives the Var the
// differentiation pass is replacing, the forward call itself and the gradient of its
// output, and emits the backward computation into bb.
type Handler func(bb *ir.BlockBuilder, origVar *ir.Var, call *ir.Call, outputGrad *ir.Var) ir.Expr

// Registry maps TE gradient names to their emitters. The zero value is not usable;
// create one with NewRegistry, or use the process-wide Default.
//
// Registering under different names is independent and safe concurrently. Registering
// twice under the same name overwrites: last write wins, and concurrent writers for
// the same name must serialize themselves if the outcome matters.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Default is the process-wide registry consulted by the differentiation passes.
var Default = NewRegistry()

// Register stores fn under name, wrapped into a Handler that unpacks the forward
// call's arguments (see ir.Call.TIRArgs) and its ir.AttrTEGradKwargs attribute bag.
// It returns fn unchanged, so a registration can wrap a function declaration.
func (r *Registry) Register(name string, fn ComputeFunc) ComputeFunc {
	handler := func(bb *ir.BlockBuilder, origVar *ir.Var, call *ir.Call, outputGrad *ir.Var) ir.Expr {
		var kwargs ir.Attrs
		if call.Attrs != nil {
			kwargs, _ = call.Attrs[ir.AttrTEGradKwargs].(ir.Attrs)
		}
		return fn(bb, outputGrad, call.TIRArgs(), kwargs)
	}
	r.mu.Lock()
	if _, exists := r.handlers[name]; exists {
		klog.V(1).Infof("te gradient %q re-registered, previous handler discarded", name)
	}
	r.handlers[name] = handler
	r.mu.Unlock()
	return fn
}

// Lookup returns the handler registered under name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, found := r.handlers[name]
	return handler, found
}

// Names returns the sorted names of all registered gradients, mostly for error
// messages and debugging.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maps.Keys(r.handlers)
	slices.Sort(names)
	return names
}

// RegisterTEGradient registers fn in the Default registry under name. The name can
// then be referenced by the ir.AttrTEGradName attribute of call_tir_with_grad calls.
// It returns fn unchanged.
func RegisterTEGradient(name string, fn ComputeFunc) ComputeFunc {
	return Default.Register(name, fn)
}
