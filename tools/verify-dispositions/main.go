// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command verify-dispositions fails when code outside internal/approval
// writes the decision fields of approval.PendingAction directly. Decisions
// must go through approval.Machine so they are audited before delivery.
package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

const approvalPkg = "/internal/approval"

var guardedFields = map[string]struct{}{
	"Disposition":     {},
	"DecidedBy":       {},
	"DecidedAt":       {},
	"Modifications":   {},
	"ResponseEventID": {},
	"Delivered":       {},
}

func main() {
	patterns := os.Args[1:]
	if len(patterns) == 0 {
		patterns = []string{"./internal/...", "./cmd/..."}
	}
	violations, err := Analyze(patterns...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load packages: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "direct PendingAction decision writes found (use approval.Machine):")
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, v)
		}
		os.Exit(1)
	}
}

// Analyze loads patterns and returns one line per forbidden write. Packages
// that fail to load or type-check are an error, since their writes cannot be
// resolved.
func Analyze(patterns ...string) ([]string, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
		Dir: ".",
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, err
	}

	var violations []string
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, fmt.Errorf("%s: %v", pkg.PkgPath, pkg.Errors[0])
		}
		if strings.HasSuffix(pkg.PkgPath, approvalPkg) {
			continue
		}
		for _, file := range pkg.Syntax {
			filename := pkg.Fset.Position(file.Package).Filename
			if strings.HasSuffix(filename, "_test.go") {
				continue
			}
			violations = append(violations, inspect(pkg, file, filename)...)
		}
	}
	return violations, nil
}

func inspect(pkg *packages.Package, file *ast.File, filename string) []string {
	var out []string
	report := func(pos token.Pos, msg string) {
		out = append(out, formatViolation(pkg.Fset, filename, pos, msg))
	}
	ast.Inspect(file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.AssignStmt:
			for _, lhs := range node.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok || !isPendingAction(sel.X, pkg.TypesInfo) {
					continue
				}
				if _, ok := guardedFields[sel.Sel.Name]; ok {
					report(sel.Pos(), "write to PendingAction."+sel.Sel.Name)
				}
			}
		case *ast.CompositeLit:
			if !isPendingAction(node, pkg.TypesInfo) {
				return true
			}
			for _, elt := range node.Elts {
				kv, ok := elt.(*ast.KeyValueExpr)
				if !ok {
					continue
				}
				key, ok := kv.Key.(*ast.Ident)
				if !ok {
					continue
				}
				if _, ok := guardedFields[key.Name]; ok {
					report(kv.Pos(), "PendingAction literal sets "+key.Name)
				}
			}
		}
		return true
	})
	return out
}

func isPendingAction(expr ast.Expr, info *types.Info) bool {
	typ := info.TypeOf(expr)
	if typ == nil {
		return false
	}
	if ptr, ok := typ.(*types.Pointer); ok {
		typ = ptr.Elem()
	}
	named, ok := typ.(*types.Named)
	if !ok || named.Obj().Name() != "PendingAction" || named.Obj().Pkg() == nil {
		return false
	}
	return strings.HasSuffix(named.Obj().Pkg().Path(), approvalPkg)
}

func formatViolation(fset *token.FileSet, filename string, pos token.Pos, msg string) string {
	p := fset.Position(pos)
	return fmt.Sprintf("%s:%d: %s", filepath.ToSlash(filename), p.Line, msg)
}
