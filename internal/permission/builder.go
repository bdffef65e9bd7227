package permission

import (
	"net/http"
	"regexp"
	"strings"
)

// Builder composes operation, module, resource and scope into a permission
// identifier. One instance is shared by every request.
type Builder struct {
	resources *ResourceResolver
}

// NewBuilder constructs a Builder over the given resource table.
func NewBuilder(resources *ResourceResolver) *Builder {
	return &Builder{resources: resources}
}

// Build assembles an identifier from explicit parts. The second return is
// false when the request cannot be gated: unknown operation or missing
// module/resource. That outcome is a defined fallback, not an error.
func (b *Builder) Build(operation, module, resource, scope string) (ID, bool) {
	if operation == "" || operation == OpUnknown {
		return ID{}, false
	}
	if strings.TrimSpace(module) == "" || strings.TrimSpace(resource) == "" {
		return ID{}, false
	}
	id := ID{Module: module, Resource: resource, Operation: operation}
	if scope != "" && scope != "Global" {
		id.Scope = scope
	}
	return id, true
}

// FromRequest derives the required permission for an HTTP request: operation
// from method+path, module/resource from the route token, scope from query
// parameters.
func (b *Builder) FromRequest(r *http.Request) (ID, bool) {
	operation := ResolveOperation(r.Method, r.URL.Path)
	token := routeToken(r.URL.Path)
	if token == "" {
		return ID{}, false
	}
	module, resource := b.resources.Resolve(token)
	scope := ResolveScope(r.URL.Query())
	return b.Build(operation, module, resource, scope)
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// routeToken extracts the resource token from an API path: the first
// segment after the /api prefix, an optional version segment and an
// optional admin segment. "/api/v1/invoices/42/approve" yields "invoices";
// "/api/v1/admin/policies" yields "policies".
func routeToken(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	i := 0
	if i < len(segments) && strings.EqualFold(segments[i], "api") {
		i++
	}
	if i < len(segments) && versionSegment.MatchString(strings.ToLower(segments[i])) {
		i++
	}
	if i < len(segments) && strings.EqualFold(segments[i], "admin") {
		i++
	}
	if i >= len(segments) {
		return ""
	}
	return segments[i]
}
