package permission

import (
	"net/http"
	"net/url"
	"strings"
)

// Standard operation names.
const (
	OpView   = "View"
	OpCreate = "Create"
	OpEdit   = "Edit"
	OpDelete = "Delete"

	OpApprove = "Approve"
	OpReject  = "Reject"
	OpVerify  = "Verify"
	OpSign    = "Sign"

	OpCancel = "Cancel"
	OpClose  = "Close"
	OpReopen = "Reopen"

	OpPrint  = "Print"
	OpExport = "Export"
	OpImport = "Import"

	OpRestore = "Restore"
	OpArchive = "Archive"
	OpBulk    = "BulkOperation"
	OpSync    = "Sync"
	OpMigrate = "Migrate"

	// OpUnknown signals that no operation could be derived. Callers must
	// treat it as "cannot gate this request", never as an error.
	OpUnknown = "Unknown"
)

// StandardOperations lists every operation a resource can be seeded with.
var StandardOperations = []string{
	OpView, OpCreate, OpEdit, OpDelete,
	OpApprove, OpReject, OpVerify, OpSign,
	OpCancel, OpClose, OpReopen,
	OpPrint, OpExport, OpImport,
	OpRestore, OpArchive, OpBulk, OpSync, OpMigrate,
}

// routeOperations maps route keywords to operations. Keyword hits take
// precedence over verb mapping: POST /invoices/5/approve is Approve, not
// Create. Order matters only for paths carrying several keywords, which the
// route tables do not produce.
var routeOperations = []struct {
	keyword   string
	operation string
}{
	{"/approve", OpApprove},
	{"/reject", OpReject},
	{"/verify", OpVerify},
	{"/sign", OpSign},
	{"/cancel", OpCancel},
	{"/close", OpClose},
	{"/reopen", OpReopen},
	{"/print", OpPrint},
	{"/export", OpExport},
	{"/import", OpImport},
	{"/restore", OpRestore},
	{"/archive", OpArchive},
	{"/bulk", OpBulk},
	{"/sync", OpSync},
	{"/migrate", OpMigrate},
}

// ResolveOperation maps an HTTP method and request path to an operation
// name. Returns OpUnknown when neither a route keyword nor a verb mapping
// applies.
func ResolveOperation(method, path string) string {
	path = strings.ToLower(path)
	for _, route := range routeOperations {
		if strings.Contains(path, route.keyword) {
			return route.operation
		}
	}
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return OpView
	case http.MethodPost:
		return OpCreate
	case http.MethodPut, http.MethodPatch:
		return OpEdit
	case http.MethodDelete:
		return OpDelete
	default:
		return OpUnknown
	}
}

// ResolveScope extracts a scope qualifier from query parameters. Department
// and facility narrow a permission to a sub-context; an explicit scope
// parameter is taken verbatim. Empty means global.
func ResolveScope(query url.Values) string {
	if dept := query.Get("departmentId"); dept != "" {
		return "Department:" + dept
	}
	if facility := query.Get("facilityId"); facility != "" {
		return "Facility:" + facility
	}
	if scope := query.Get("scope"); scope != "" && scope != "Global" {
		return scope
	}
	return ""
}

// OperationCategory groups an operation for reporting.
func OperationCategory(operation string) string {
	switch operation {
	case OpView, OpCreate, OpEdit, OpDelete:
		return "CRUD"
	case OpApprove, OpReject, OpVerify, OpSign:
		return "Approval"
	case OpCancel, OpClose, OpReopen:
		return "StateManagement"
	case OpPrint, OpExport, OpImport:
		return "DataOps"
	case OpRestore, OpArchive, OpBulk, OpSync, OpMigrate:
		return "Advanced"
	default:
		return OpUnknown
	}
}
