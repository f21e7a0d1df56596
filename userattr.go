package aclengine

import (
	"context"
	"fmt"
	"strings"
)

// EvalContext is the scope a CompiledPredicate is evaluated against:
// the resolved user, the table in question, and the row (if any) the
// current evaluation concerns. OldRec and NewRec are both populated
// during update evaluation so a predicate can compare before/after
// values; for create/delete/read evaluation only one side is set.
type EvalContext struct {
	User   *UserInfo
	Table  TableID
	OldRec RecordView
	NewRec RecordView
}

// Rec returns NewRec if set, otherwise OldRec, for predicates that
// don't care which side of a mutation they're looking at.
func (c *EvalContext) Rec() RecordView {
	if c.NewRec != nil {
		return c.NewRec
	}
	if c.OldRec != nil {
		return c.OldRec
	}
	return EmptyRecordView{}
}

// UserAttributeResolver binds every UserAttributeRule registered in a
// RuleStore onto a UserInfo before access rules run. Resolution is
// strictly sequential: rule N can reference an attribute bound by rule
// N-1 via UserKey == "Attributes.<name>", so rules must be applied in
// declaration order, not fanned out concurrently.
type UserAttributeResolver struct {
	store   *RuleStore
	fetcher StoreFetcher
}

// NewUserAttributeResolver builds a resolver reading attribute rules
// from store and loading characteristic rows through fetcher.
func NewUserAttributeResolver(store *RuleStore, fetcher StoreFetcher) *UserAttributeResolver {
	return &UserAttributeResolver{store: store, fetcher: fetcher}
}

// Resolve populates user.Attributes in place. A rule whose key value
// is nil, or whose characteristic-table lookup misses, binds
// EmptyRecordView rather than failing the whole resolution: a missing
// attribute should narrow what later rules can see, not abort
// evaluation.
func (r *UserAttributeResolver) Resolve(ctx context.Context, user *UserInfo) error {
	if user.Attributes == nil {
		user.Attributes = make(map[string]RecordView)
	}
	for _, rule := range r.store.AttributeRules() {
		key, err := userKeyValue(user, rule.UserKey)
		if err != nil {
			return fmt.Errorf("aclengine: resolving attribute %q: %w", rule.Name, err)
		}
		if key == nil {
			user.Attributes[rule.Name] = EmptyRecordView{}
			continue
		}
		rec, err := r.fetcher.FetchCharacteristicRow(ctx, rule.CharacteristicTable, rule.LookupColumn, normalizeKey(key))
		if err != nil {
			return fmt.Errorf("aclengine: fetching characteristic row for attribute %q: %w", rule.Name, err)
		}
		if rec == nil {
			rec = EmptyRecordView{}
		}
		user.Attributes[rule.Name] = rec
	}
	return nil
}

// normalizeKey collapses a lookup key to the form the characteristic
// table's index was built against: record-typed values collapse to
// their id before comparison, and every other value is compared by
// its natural Go equality.
func normalizeKey(v any) any {
	if rv, ok := v.(RecordView); ok {
		return rv.ID()
	}
	return v
}

// userKeyValue resolves a UserKey spec against user. "Attributes.<name>"
// looks up a previously bound attribute's ID as the join key; anything
// else is read straight off the UserInfo identity fields.
func userKeyValue(user *UserInfo, spec string) (any, error) {
	if rest, ok := strings.CutPrefix(spec, "Attributes."); ok {
		attr, ok := user.Attributes[rest]
		if !ok {
			return nil, nil
		}
		if attr.ID() == "" {
			return nil, nil
		}
		return attr, nil
	}
	switch spec {
	case "UserID":
		if user.UserID == "" {
			return nil, nil
		}
		return user.UserID, nil
	case "Email":
		if user.Email == "" {
			return nil, nil
		}
		return user.Email, nil
	case "Name":
		if user.Name == "" {
			return nil, nil
		}
		return user.Name, nil
	default:
		return nil, fmt.Errorf("unknown user key %q", spec)
	}
}
