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

// Package display renders dataflow IR modules and functions as styled text for
// terminals, a highlighted counterpart to the plain String methods of the ir package.
package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/LeshengJin/mlc-relax/ir"
	"github.com/charmbracelet/lipgloss"
)

var (
	keywordStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	funcNameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	opStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	shapeStyle    = lipgloss.NewStyle().Faint(true)
	globalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Module renders the whole module, functions in insertion order.
func Module(mod *ir.Module) string {
	parts := make([]string, 0, mod.NumFunctions())
	for _, f := range mod.Functions() {
		parts = append(parts, Function(f))
	}
	return strings.Join(parts, "\n\n")
}

// Function renders one function.
func Function(f *ir.Function) string {
	var sb strings.Builder
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, fmt.Sprintf("%s: %s", p, shapeStyle.Render(p.Shape().String())))
	}
	fmt.Fprintf(&sb, "%s %s(%s):\n", keywordStyle.Render("def"), funcNameStyle.Render(f.Name), strings.Join(params, ", "))
	for _, block := range f.Blocks {
		fmt.Fprintf(&sb, "  %s %s:\n", keywordStyle.Render("with"), keywordStyle.Render("dataflow"))
		for _, binding := range block.Bindings {
			fmt.Fprintf(&sb, "    %s: %s = %s\n",
				binding.Var, shapeStyle.Render(binding.Var.Shape().String()), expr(binding.Value))
		}
		outputs := make([]string, 0, len(block.Outputs))
		for _, out := range block.Outputs {
			outputs = append(outputs, out.String())
		}
		fmt.Fprintf(&sb, "    %s %s\n", keywordStyle.Render("output"), strings.Join(outputs, ", "))
	}
	fmt.Fprintf(&sb, "  %s %s", keywordStyle.Render("return"), expr(f.Ret))
	return sb.String()
}

// Write renders the module into w.
func Write(w io.Writer, mod *ir.Module) error {
	_, err := fmt.Fprintln(w, Module(mod))
	return err
}

func expr(e ir.Expr) string {
	switch e := e.(type) {
	case *ir.Call:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			parts = append(parts, expr(arg))
		}
		return fmt.Sprintf("%s(%s)", opStyle.Render(e.Op), strings.Join(parts, ", "))
	case *ir.Tuple:
		parts := make([]string, 0, len(e.Elements))
		for _, element := range e.Elements {
			parts = append(parts, expr(element))
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
	case *ir.TupleGetItem:
		return fmt.Sprintf("%s[%d]", expr(e.Tuple), e.Index)
	case *ir.GlobalVar:
		return globalStyle.Render(e.String())
	case *ir.Constant:
		return shapeStyle.Render(e.String())
	default:
		return e.String()
	}
}
