package auth

import "context"

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// CanAccessFromContext checks the plan gate for the user stored in ctx.
// Anonymous callers are denied.
func CanAccessFromContext(ctx context.Context, route string) bool {
	user, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return CanAccess(user.Plan, route)
}
