package entitlement

import "context"

type subjectKey struct{}

// WithSubject stores the caller in ctx for Require.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the caller, or an anonymous visitor.
func SubjectFromContext(ctx context.Context) Subject {
	if s, ok := ctx.Value(subjectKey{}).(Subject); ok {
		return s
	}
	return Subject{Role: RoleVisitor}
}
