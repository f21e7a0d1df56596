package rules

import (
	"fmt"
	"strings"

	"github.com/sheetguard/aclengine"
)

// Compiler is the default aclengine.RuleCompiler: it parses a small,
// line-oriented match language rather than a general expression
// grammar, which keeps manifests auditable by a non-programmer while
// covering the match shapes real access rules need.
//
// Grammar (one rule per Match string):
//
//	always                    matches every subject and row
//	role:owners|editors       matches if the session's AccessRole is one of the listed roles
//	attr:<name>               matches if user attribute <name> was bound to a non-empty row
//	col:<col>=user:<field>    matches if rec.Get(<col>) equals the named UserInfo field
//	col:<col>=attr:<name>     matches if rec.Get(<col>) equals attribute <name>'s row id
type Compiler struct{}

// Compile implements aclengine.RuleCompiler.
func (Compiler) Compile(source string) (aclengine.CompiledPredicate, error) {
	return compileMatch(strings.TrimSpace(source))
}

func compileMatch(src string) (aclengine.CompiledPredicate, error) {
	switch {
	case src == "always":
		return func(*aclengine.EvalContext) (bool, error) { return true, nil }, nil

	case strings.HasPrefix(src, "role:"):
		roles := strings.Split(strings.TrimPrefix(src, "role:"), "|")
		want := make(map[string]bool, len(roles))
		for _, r := range roles {
			want[strings.TrimSpace(r)] = true
		}
		return func(ctx *aclengine.EvalContext) (bool, error) {
			return want[ctx.User.Access.String()], nil
		}, nil

	case strings.HasPrefix(src, "attr:"):
		name := strings.TrimPrefix(src, "attr:")
		return func(ctx *aclengine.EvalContext) (bool, error) {
			return ctx.User.Attr(name).ID() != "", nil
		}, nil

	case strings.HasPrefix(src, "col:"):
		return compileColumnMatch(strings.TrimPrefix(src, "col:"))

	default:
		return nil, fmt.Errorf("rules: unrecognized match expression %q", src)
	}
}

func compileColumnMatch(rest string) (aclengine.CompiledPredicate, error) {
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("rules: malformed column match %q, want col:<col>=user:<field> or col:<col>=attr:<name>", rest)
	}
	col := aclengine.ColID(strings.TrimSpace(parts[0]))
	rhs := strings.TrimSpace(parts[1])

	switch {
	case strings.HasPrefix(rhs, "user:"):
		field := strings.TrimPrefix(rhs, "user:")
		return func(ctx *aclengine.EvalContext) (bool, error) {
			if ctx.OldRec == nil && ctx.NewRec == nil {
				return false, aclengine.ErrNeedsRow
			}
			val, err := userField(ctx.User, field)
			if err != nil {
				return false, err
			}
			return ctx.Rec().Get(col) == val, nil
		}, nil

	case strings.HasPrefix(rhs, "attr:"):
		name := strings.TrimPrefix(rhs, "attr:")
		return func(ctx *aclengine.EvalContext) (bool, error) {
			if ctx.OldRec == nil && ctx.NewRec == nil {
				return false, aclengine.ErrNeedsRow
			}
			attr := ctx.User.Attr(name)
			if attr.ID() == "" {
				return false, nil
			}
			return fmt.Sprint(ctx.Rec().Get(col)) == attr.ID(), nil
		}, nil

	default:
		return nil, fmt.Errorf("rules: malformed column match right-hand side %q", rhs)
	}
}

func userField(u *aclengine.UserInfo, field string) (any, error) {
	switch field {
	case "UserID":
		return u.UserID, nil
	case "Email":
		return u.Email, nil
	case "Name":
		return u.Name, nil
	default:
		return nil, fmt.Errorf("rules: unknown user field %q", field)
	}
}

var permBitNames = map[string]aclengine.PermBit{
	"read":        aclengine.BitRead,
	"update":      aclengine.BitUpdate,
	"create":      aclengine.BitCreate,
	"delete":      aclengine.BitDelete,
	"schemaEdit":  aclengine.BitSchemaEdit,
}

func parsePermissions(spec map[string]string) (aclengine.PartialPermissionSet, error) {
	var perms aclengine.PartialPermissionSet
	for bitName, valName := range spec {
		bit, ok := permBitNames[bitName]
		if !ok {
			return perms, fmt.Errorf("rules: unknown permission bit %q", bitName)
		}
		v, err := permValue(valName)
		if err != nil {
			return perms, err
		}
		perms = perms.WithBit(bit, v)
	}
	return perms, nil
}

func permValue(s string) (aclengine.PermValue, error) {
	switch s {
	case "allow":
		return aclengine.Allow, nil
	case "deny":
		return aclengine.Deny, nil
	case "allowSome":
		return aclengine.AllowSome, nil
	case "denySome":
		return aclengine.DenySome, nil
	default:
		return aclengine.Unset, fmt.Errorf("rules: unknown permission value %q", s)
	}
}

// Compile turns a parsed Manifest into the RuleSets and
// UserAttributeRules an aclengine.Engine can load via UpdateRules.
func Compile(m *Manifest, compiler aclengine.RuleCompiler) ([]aclengine.RuleSet, []aclengine.UserAttributeRule, error) {
	ruleSets := make([]aclengine.RuleSet, 0, len(m.RuleSets))
	for _, spec := range m.RuleSets {
		table := aclengine.TableID(spec.Table)
		if spec.Table == "*" {
			table = aclengine.AllTables
		}

		cols := spec.Columns
		if len(cols) == 0 {
			cols = []string{"*"}
		}
		colIDs := make([]aclengine.ColID, len(cols))
		for i, c := range cols {
			colIDs[i] = aclengine.ColID(c)
		}

		compiledRules := make([]aclengine.Rule, 0, len(spec.Rules))
		for _, rspec := range spec.Rules {
			predicate, err := compiler.Compile(rspec.Match)
			if err != nil {
				return nil, nil, aclengine.NewValidationError(aclengine.CodeBadPredicate,
					fmt.Sprintf("table %s: compiling rule %q", spec.Table, rspec.Match), err)
			}
			perms, err := parsePermissions(rspec.Permissions)
			if err != nil {
				return nil, nil, aclengine.NewValidationError(aclengine.CodeBadPredicate,
					fmt.Sprintf("table %s: rule %q", spec.Table, rspec.Match), err)
			}
			compiledRules = append(compiledRules, aclengine.Rule{
				Source:      rspec.Match,
				Predicate:   predicate,
				Permissions: perms,
			})
		}

		def, err := parsePermissions(spec.Default)
		if err != nil {
			return nil, nil, aclengine.NewValidationError(aclengine.CodeBadPredicate,
				fmt.Sprintf("table %s: default permissions", spec.Table), err)
		}

		ruleSets = append(ruleSets, aclengine.RuleSet{
			Scope:   aclengine.RuleScope{Table: table, Columns: colIDs},
			Rules:   compiledRules,
			Default: def,
		})
	}

	attrRules := make([]aclengine.UserAttributeRule, 0, len(m.UserAttributes))
	for _, a := range m.UserAttributes {
		if a.Table == "" || a.LookupColumn == "" {
			return nil, nil, aclengine.NewValidationError(aclengine.CodeBadAttributeRule,
				fmt.Sprintf("user attribute %q: table and lookupColumn are required", a.Name), nil)
		}
		attrRules = append(attrRules, aclengine.UserAttributeRule{
			Name:                a.Name,
			CharacteristicTable: aclengine.TableID(a.Table),
			LookupColumn:        aclengine.ColID(a.LookupColumn),
			UserKey:             a.UserKey,
		})
	}

	return ruleSets, attrRules, nil
}
