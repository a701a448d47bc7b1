// Package validate statically checks the codebase for constructs that could
// undermine the append-only contract: function names that suggest in-place
// mutation, SQL statements that rewrite rows outside the store, and model
// SDK imports outside the router package. The lint subcommand runs both
// walkers and exits non-zero on any finding.
package validate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
)

// Violation is one finding with its source position.
type Violation struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s", v.File, v.Line, v.Message)
}

// mutationPrefixes are the name prefixes that suggest in-place record
// mutation, in both Go and snake style.
var mutationPrefixes = []string{
	"Update", "Delete", "Remove", "Modify", "Edit", "Change", "Overwrite",
	"Truncate", "Drop", "Clear", "Set", "Reset",
	"update_", "delete_", "remove_", "modify_", "edit_", "change_",
	"overwrite_", "truncate_", "drop_", "clear_", "set_", "reset_",
}

// allowedNames are reviewed exceptions to the prefix rule: test-only resets,
// the policy path override and the export tombstone, which appends rather
// than rewrites.
var allowedNames = map[string]struct{}{
	"Reset":         {},
	"ResetRegistry": {},
	"SetPath":       {},
	"Delete":        {},
	"MarkDeleted":   {},
	"DeletedAt":     {},
}

// sqlExemptDirs may contain row-removing SQL: the store's quarantine and
// retention compaction paths, and this package's own search patterns.
var sqlExemptDirs = map[string]struct{}{
	"pkg/corpus":   {},
	"pkg/validate": {},
}

// CheckMutations walks root's Go sources and reports declarations and SQL
// literals that would mutate stored records.
func CheckMutations(root string) ([]Violation, error) {
	var violations []Violation
	err := walkGoFiles(root, func(path string, fset *token.FileSet, file *ast.File) {
		rel := relPath(root, path)
		exemptSQL := false
		for dir := range sqlExemptDirs {
			if strings.HasPrefix(rel, dir) {
				exemptSQL = true
			}
		}

		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.FuncDecl:
				name := node.Name.Name
				if _, ok := allowedNames[name]; ok {
					return true
				}
				for _, prefix := range mutationPrefixes {
					if strings.HasPrefix(name, prefix) {
						violations = append(violations, Violation{
							File:    rel,
							Line:    fset.Position(node.Pos()).Line,
							Message: fmt.Sprintf("function %s suggests in-place mutation (prefix %s)", name, prefix),
						})
						break
					}
				}
			case *ast.BasicLit:
				if node.Kind != token.STRING || exemptSQL {
					return true
				}
				upper := strings.ToUpper(node.Value)
				if strings.Contains(upper, "UPDATE ") && strings.Contains(upper, " SET ") {
					violations = append(violations, Violation{
						File:    rel,
						Line:    fset.Position(node.Pos()).Line,
						Message: "SQL UPDATE statement outside the store package",
					})
				}
				if strings.Contains(upper, "DELETE FROM") {
					violations = append(violations, Violation{
						File:    rel,
						Line:    fset.Position(node.Pos()).Line,
						Message: "SQL DELETE statement outside the store package",
					})
				}
			}
			return true
		})
	})
	return violations, err
}

func walkGoFiles(root string, visit func(path string, fset *token.FileSet, file *ast.File)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		fset := token.NewFileSet()
		file, parseErr := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if parseErr != nil {
			return fmt.Errorf("validate: parse %s: %w", path, parseErr)
		}
		visit(path, fset, file)
		return nil
	})
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
