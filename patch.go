package nativebind

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/imports"
)

// Patch rule kinds.
const (
	// RetypeField changes the type of one field of one struct.
	RetypeField = "retype-field"
	// ReplaceType replaces every use of a type expression.
	ReplaceType = "replace-type"
	// RenameIdent renames every occurrence of an identifier.
	RenameIdent = "rename-ident"
)

// PatchRule is one named rewrite of the generated binding. Expected is the
// largest number of matches the rule should see; 0 means no limit.
type PatchRule struct {
	Name     string `toml:"name" yaml:"name" validate:"required"`
	Kind     string `toml:"kind" yaml:"kind" validate:"required,oneof=retype-field replace-type rename-ident"`
	Type     string `toml:"type" yaml:"type"`   // retype-field: struct type name
	Field    string `toml:"field" yaml:"field"` // retype-field: field name
	From     string `toml:"from" yaml:"from"`   // replace-type, rename-ident
	To       string `toml:"to" yaml:"to" validate:"required"`
	Expected int    `toml:"expected" yaml:"expected" validate:"gte=0"`
}

// Validate checks that the rule has the fields its kind needs and that
// applying it twice is a no-op.
func (r PatchRule) Validate() error {
	switch r.Kind {
	case RetypeField:
		if !token.IsIdentifier(r.Type) || !token.IsIdentifier(r.Field) {
			return fmt.Errorf("patch rule %q: type and field must be identifiers", r.Name)
		}
		if _, err := parser.ParseExpr(r.To); err != nil {
			return fmt.Errorf("patch rule %q: invalid type %q: %w", r.Name, r.To, err)
		}

	case ReplaceType:
		from, err := parser.ParseExpr(r.From)
		if err != nil {
			return fmt.Errorf("patch rule %q: invalid type %q: %w", r.Name, r.From, err)
		}
		to, err := parser.ParseExpr(r.To)
		if err != nil {
			return fmt.Errorf("patch rule %q: invalid type %q: %w", r.Name, r.To, err)
		}
		fromStr := types.ExprString(from)
		contains := false
		ast.Inspect(to, func(n ast.Node) bool {
			if e, ok := n.(ast.Expr); ok && types.ExprString(e) == fromStr {
				contains = true
			}
			return !contains
		})
		if contains {
			return fmt.Errorf("patch rule %q: replacement %q contains %q", r.Name, r.To, r.From)
		}

	case RenameIdent:
		if !token.IsIdentifier(r.From) || !token.IsIdentifier(r.To) {
			return fmt.Errorf("patch rule %q: from and to must be identifiers", r.Name)
		}
		if r.From == r.To {
			return fmt.Errorf("patch rule %q: renames %q to itself", r.Name, r.From)
		}

	default:
		return fmt.Errorf("patch rule %q: unknown kind %q", r.Name, r.Kind)
	}
	return nil
}

// PatchResult reports how often one rule matched.
type PatchResult struct {
	Rule     string
	Matches  int
	Expected int
}

// OverMatched reports whether the rule matched more nodes than expected.
func (r PatchResult) OverMatched() bool {
	return r.Expected > 0 && r.Matches > r.Expected
}

// ApplyPatches applies rules in order and reformats the result. With strict
// set, a rule matching more than its expected count is an error.
func ApplyPatches(src []byte, rules []PatchRule, strict bool) ([]byte, []PatchResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "binding.go", src, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("parse binding: %w", err)
	}

	if err := ValidatePatchRules(rules); err != nil {
		return nil, nil, err
	}

	results := make([]PatchResult, 0, len(rules))
	for _, rule := range rules {
		matches := applyRule(file, rule)
		res := PatchResult{Rule: rule.Name, Matches: matches, Expected: rule.Expected}
		results = append(results, res)
		if strict && res.OverMatched() {
			return nil, results, fmt.Errorf("patch rule %q matched %d nodes, expected at most %d", rule.Name, matches, rule.Expected)
		}
	}

	// A second pass over the patched tree must be a no-op.
	for _, rule := range rules {
		if matches := applyRule(file, rule); matches > 0 {
			return nil, results, fmt.Errorf("patch rules are not idempotent: %q matched %d nodes on a second pass", rule.Name, matches)
		}
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return nil, results, fmt.Errorf("print binding: %w", err)
	}
	out, err := imports.Process("binding.go", buf.Bytes(), &imports.Options{Comments: true, TabIndent: true, TabWidth: 8})
	if err != nil {
		return nil, results, fmt.Errorf("format binding: %w", err)
	}
	return out, results, nil
}

func applyRule(file *ast.File, rule PatchRule) int {
	switch rule.Kind {
	case RetypeField:
		return retypeField(file, rule)
	case ReplaceType:
		return replaceType(file, rule)
	case RenameIdent:
		return renameIdent(file, rule)
	}
	return 0
}

// ValidatePatchRules checks each rule and the set as a whole. Rule names
// must be unique, and no rule may produce or disturb what an earlier rule
// matches, so that applying the set twice changes nothing.
func ValidatePatchRules(rules []PatchRule) error {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.Name] {
			return fmt.Errorf("duplicate patch rule %q", rule.Name)
		}
		seen[rule.Name] = true
		if err := rule.Validate(); err != nil {
			return err
		}
	}

	for j, later := range rules {
		for _, earlier := range rules[:j] {
			if conflict := ruleConflict(earlier, later); conflict != "" {
				return fmt.Errorf("patch rule %q %s rule %q matches", later.Name, conflict, earlier.Name)
			}
		}
	}
	return nil
}

// ruleConflict describes how later undoes the fixed point of earlier, or
// returns "" when the two rules are independent.
func ruleConflict(earlier, later PatchRule) string {
	produced := later.produces()
	for name := range earlier.matchesOn() {
		if produced[name] {
			return fmt.Sprintf("produces %q, which", name)
		}
	}

	if earlier.Kind != RetypeField {
		return ""
	}
	if later.Kind == RetypeField && later.Type == earlier.Type && later.Field == earlier.Field {
		return "retypes the field"
	}
	if later.Kind != RetypeField {
		target := exprIdents(earlier.To)
		for name := range later.consumes() {
			if target[name] {
				return fmt.Sprintf("rewrites %q in the type", name)
			}
		}
	}
	return ""
}

// matchesOn returns the identifiers whose presence makes the rule match.
func (r PatchRule) matchesOn() map[string]bool {
	switch r.Kind {
	case RetypeField:
		return map[string]bool{r.Type: true, r.Field: true}
	default:
		return r.consumes()
	}
}

// consumes returns the identifiers the rule rewrites away.
func (r PatchRule) consumes() map[string]bool {
	if r.Kind == RenameIdent {
		return map[string]bool{r.From: true}
	}
	return exprIdents(r.From)
}

// produces returns the identifiers the rule writes into the binding.
func (r PatchRule) produces() map[string]bool {
	if r.Kind == RenameIdent {
		return map[string]bool{r.To: true}
	}
	return exprIdents(r.To)
}

func exprIdents(src string) map[string]bool {
	idents := make(map[string]bool)
	expr, err := parser.ParseExpr(src)
	if err != nil {
		return idents
	}
	ast.Inspect(expr, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok {
			idents[id.Name] = true
		}
		return true
	})
	return idents
}

func retypeField(file *ast.File, rule PatchRule) int {
	to := types.ExprString(mustParseExpr(rule.To))
	matches := 0
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		spec, ok := c.Node().(*ast.TypeSpec)
		if !ok {
			return true
		}
		st, ok := spec.Type.(*ast.StructType)
		if !ok || spec.Name.Name != rule.Type {
			return false
		}
		for _, field := range st.Fields.List {
			for _, name := range field.Names {
				if name.Name == rule.Field && types.ExprString(field.Type) != to {
					field.Type = mustParseExpr(rule.To)
					matches++
				}
			}
		}
		return false
	}, nil)
	return matches
}

func replaceType(file *ast.File, rule PatchRule) int {
	from := types.ExprString(mustParseExpr(rule.From))
	matches := 0
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		switch c.Node().(type) {
		case *ast.Ident, *ast.SelectorExpr, *ast.StarExpr, *ast.ArrayType, *ast.MapType:
		default:
			return true
		}
		if declaresName(c) || types.ExprString(c.Node().(ast.Expr)) != from {
			return true
		}
		c.Replace(mustParseExpr(rule.To))
		matches++
		return false
	}, nil)
	return matches
}

func renameIdent(file *ast.File, rule PatchRule) int {
	matches := 0
	astutil.Apply(file, func(c *astutil.Cursor) bool {
		id, ok := c.Node().(*ast.Ident)
		if !ok || id.Name != rule.From || cgoSelector(c) {
			return true
		}
		id.Name = rule.To
		matches++
		return true
	}, nil)
	return matches
}

// declaresName reports whether the cursor sits on a name being declared or
// selected rather than on a type expression.
func declaresName(c *astutil.Cursor) bool {
	switch c.Parent().(type) {
	case *ast.File, *ast.TypeSpec, *ast.FuncDecl, *ast.ImportSpec, *ast.LabeledStmt:
		return c.Name() == "Name" || c.Name() == "Label"
	case *ast.Field, *ast.ValueSpec:
		return c.Name() == "Names"
	case *ast.SelectorExpr:
		return c.Name() == "Sel"
	}
	return false
}

// cgoSelector reports whether the cursor is the name half of C.<name>.
func cgoSelector(c *astutil.Cursor) bool {
	sel, ok := c.Parent().(*ast.SelectorExpr)
	if !ok || c.Name() != "Sel" {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	return ok && x.Name == "C"
}

// mustParseExpr parses an expression already accepted by PatchRule.Validate.
func mustParseExpr(src string) ast.Expr {
	expr, err := parser.ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return expr
}

// Patcher applies the configured patch rules to the generated binding.
type Patcher struct{}

func (p *Patcher) Name() StageName {
	return StagePatch
}

func (p *Patcher) Run(ctx context.Context, run *Run) error {
	rules := run.Config.Patch.Rules
	if run.Binding == nil {
		return fmt.Errorf("no binding to patch; the extract stage must run first")
	}
	if len(rules) == 0 {
		run.Logger.Info().Msg("No patch rules")
		return nil
	}

	src, results, err := ApplyPatches(run.Binding.Source, rules, run.Config.Patch.StrictCounts)
	for _, res := range results {
		switch {
		case res.Matches == 0:
			run.Logger.Info().Str("rule", res.Rule).Msg("Patch rule matched nothing")
		case res.OverMatched():
			run.Logger.Warn().
				Str("rule", res.Rule).
				Int("matches", res.Matches).
				Int("expected", res.Expected).
				Msg("Patch rule matched more than expected")
			if err == nil {
				run.warn("patch rule %q matched %d nodes, expected at most %d", res.Rule, res.Matches, res.Expected)
			}
		default:
			run.Logger.Debug().Str("rule", res.Rule).Int("matches", res.Matches).Msg("Patch rule applied")
		}
	}
	if err != nil {
		return err
	}

	run.Binding.Source = src
	return nil
}
