package tenant

import "context"

type contextKey string

const tenantContextKey contextKey = "insight_tenant"

// Context binds a request to the tenant(s) its caller may read. It is
// built once per request from the caller's API key and never persisted.
type Context struct {
	CallerID         string
	CallerName       string
	TenantID         string
	CrossTenantAdmin bool
	AllowedTenantIDs []string
}

// Permits reports whether the caller may read the given tenant's data.
func (c *Context) Permits(tenantID string) bool {
	if c.CrossTenantAdmin {
		return true
	}
	if tenantID == c.TenantID {
		return true
	}
	for _, id := range c.AllowedTenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

func ContextWith(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(tenantContextKey).(*Context)
	return tc, ok
}
