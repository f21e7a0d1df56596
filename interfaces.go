package aclengine

import "context"

// DocData gives the engine read access to a document's rows for
// row-level rule evaluation and row-transition planning. Implemented
// by the document server; the engine never writes through it.
type DocData interface {
	FetchRows(ctx context.Context, table TableID, rowIDs []RowID) (*TableData, error)
}

// StoreFetcher loads a single row of a CharacteristicTable by the
// value of its lookup column, for binding a UserAttributeRule.
type StoreFetcher interface {
	FetchCharacteristicRow(ctx context.Context, table TableID, lookupCol ColID, key any) (RecordView, error)
}

// RuleCompiler turns one rule's source text into a CompiledPredicate.
// The engine holds only compiled rules; parsing rule source is
// entirely this collaborator's responsibility.
type RuleCompiler interface {
	Compile(source string) (CompiledPredicate, error)
}

// SessionResolver resolves an opaque Session to the UserInfo driving
// rule evaluation for that session: access role, identity fields, and
// any attributes the caller already knows about.
type SessionResolver interface {
	ResolveSession(ctx context.Context, session Session) (*UserInfo, error)
}
