package validate

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

// providerSDKPrefixes are import paths that must only appear inside the
// router package, so every model call flows through the audited router.
var providerSDKPrefixes = []string{
	"github.com/anthropics/anthropic-sdk-go",
	"github.com/sashabaranov/go-openai",
	"github.com/google/generative-ai-go",
}

// routerDir is the one package allowed to import provider SDKs.
const routerDir = "pkg/llm"

// CheckRouterBoundary reports provider SDK imports outside the router
// package.
func CheckRouterBoundary(root string) ([]Violation, error) {
	var violations []Violation
	err := walkGoFiles(root, func(path string, fset *token.FileSet, file *ast.File) {
		rel := relPath(root, path)
		if strings.HasPrefix(rel, routerDir+"/") {
			return
		}
		for _, imp := range file.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, prefix := range providerSDKPrefixes {
				if strings.HasPrefix(importPath, prefix) {
					violations = append(violations, Violation{
						File:    rel,
						Line:    fset.Position(imp.Pos()).Line,
						Message: fmt.Sprintf("provider SDK %s imported outside %s", importPath, routerDir),
					})
				}
			}
		}
	})
	return violations, err
}

// CheckAll runs every validator.
func CheckAll(root string) ([]Violation, error) {
	mutations, err := CheckMutations(root)
	if err != nil {
		return nil, err
	}
	boundary, err := CheckRouterBoundary(root)
	if err != nil {
		return nil, err
	}
	return append(mutations, boundary...), nil
}
