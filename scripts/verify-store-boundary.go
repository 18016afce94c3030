// SPDX-License-Identifier: MIT

// verify-store-boundary fails when any package other than internal/db
// imports database/sql or the sqlite driver. The stores are the only
// code allowed to speak SQL; everything else goes through them.
package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/tools/go/packages"
)

var restricted = map[string]bool{
	"database/sql":       true,
	"modernc.org/sqlite": true,
}

const allowedPkg = "github.com/thurstonsan/anypod/internal/db"

func main() {
	pattern := "./..."
	if len(os.Args) > 1 {
		pattern = os.Args[1]
	}

	violations, err := analyze(pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}
	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "store boundary violations found:")
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "  "+v)
		}
		os.Exit(1)
	}
	fmt.Println("store boundary intact")
}

func analyze(pattern string) ([]string, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedImports | packages.NeedFiles,
		Dir:  ".",
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		if pkg.PkgPath == allowedPkg || strings.HasSuffix(pkg.PkgPath, ".test") {
			continue
		}
		for imp := range pkg.Imports {
			if restricted[imp] {
				violations = append(violations, fmt.Sprintf("%s imports %s", pkg.PkgPath, imp))
			}
		}
	}
	return violations, nil
}
