// Package authz implements the authorization resolution engine.
package authz

import "context"

// Subject is the capability interface the engine requires from the
// consuming application's user type. The engine never depends on a concrete
// user model.
type Subject interface {
	ID() string
	IsSuperAdmin() bool
}

// SubjectID is a plain subject with no elevated privileges, for callers
// that only carry an identifier.
type SubjectID string

// ID returns the identifier.
func (s SubjectID) ID() string { return string(s) }

// IsSuperAdmin always reports false.
func (s SubjectID) IsSuperAdmin() bool { return false }

type subjectKey struct{}

// ContextWithSubject stores the authenticated subject for handlers further
// down the chain.
func ContextWithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the stored subject, or nil when absent.
func SubjectFromContext(ctx context.Context) Subject {
	if s, ok := ctx.Value(subjectKey{}).(Subject); ok {
		return s
	}
	return nil
}
