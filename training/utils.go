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

package training

import (
	"github.com/LeshengJin/mlc-relax/ir"
	"github.com/LeshengJin/mlc-relax/transforms"
)

// AppendLoss returns the pass that appends lossFn to the backbone function named
// funcName. It is a convenience alias of transforms.AppendLoss; see there for the
// restrictions the two functions must satisfy and the shape of the result.
//
// Typically lossFn computes a scalar discrepancy between the backbone's prediction
// outputs and target values:
//
//	predictLoss := training.AppendLoss("predict", lossFn, 1, "")
//	newMod, err := predictLoss.Apply(mod)
//
// which, for a backbone `predict(x, y)` returning `out` and a loss
// `loss(predictions, labels)` returning the scalar `gv`, adds
//
//	def predict_loss(x, y, labels):
//	  with dataflow:
//	    out = add(x, y)
//	    lv = subtract(out, labels)
//	    lv1 = multiply(lv, lv)
//	    gv = sum(lv1)
//	    output gv
//	  return gv
func AppendLoss(funcName string, lossFn *ir.Function, numBackboneOutputs int, newFuncName string) transforms.Pass {
	return transforms.AppendLoss(funcName, lossFn, numBackboneOutputs, newFuncName)
}
