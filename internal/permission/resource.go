package permission

import (
	"sort"
	"strings"
	"sync"
)

// Mapping ties a route token to its module and resource.
type Mapping struct {
	Token    string
	Module   string
	Resource string
}

// ResourceResolver maps route tokens to (Module, Resource) pairs. The table
// is deployment data: it is seeded at construction and can be updated at
// runtime through Upsert without a redeploy. Reads vastly outnumber writes,
// hence the RWMutex.
type ResourceResolver struct {
	mu    sync.RWMutex
	table map[string]Mapping
}

// FallbackModule is assigned to tokens missing from the table. Unmapped
// resources land in a low-trust bucket instead of failing the pipeline.
const FallbackModule = "General"

// NewResourceResolver builds a resolver seeded with the given mappings.
func NewResourceResolver(seed []Mapping) *ResourceResolver {
	r := &ResourceResolver{table: make(map[string]Mapping, len(seed))}
	for _, m := range seed {
		r.Upsert(m.Token, m.Module, m.Resource)
	}
	return r
}

// DefaultMappings returns the built-in route token table.
func DefaultMappings() []Mapping {
	return []Mapping{
		{"lookuptypes", "Lookups", "LookupType"},
		{"lookuptypevalues", "Lookups", "LookupTypeValue"},

		{"users", "Administration", "User"},
		{"roles", "Administration", "Role"},
		{"policies", "Administration", "Policy"},
		{"permissions", "Administration", "Permission"},
		{"cache", "Administration", "Cache"},
		{"access-log", "Administration", "AccessLog"},
		{"queues", "Administration", "Queue"},

		{"patients", "EMR", "Patient"},
		{"encounters", "EMR", "Encounter"},
		{"consultations", "EMR", "Consultation"},
		{"diagnoses", "EMR", "Diagnosis"},

		{"invoices", "Billing", "Invoice"},
		{"bills", "Billing", "Bill"},
		{"payments", "Billing", "Payment"},
		{"creditnotes", "Billing", "CreditNote"},

		{"laborders", "LIS", "LabOrder"},
		{"labresults", "LIS", "LabResult"},
		{"testsets", "LIS", "TestSet"},

		{"prescriptions", "Pharmacy", "Prescription"},
		{"medications", "Pharmacy", "Medication"},
		{"stocks", "Pharmacy", "Stock"},

		{"reports", "Reports", "Report"},
		{"dashboards", "Reports", "Dashboard"},

		{"settings", "Settings", "Setting"},
		{"configurations", "Settings", "Configuration"},
	}
}

// Resolve maps a route token to its module and resource. Unknown tokens
// fall back to ("General", token) so the request pipeline never fails here.
func (r *ResourceResolver) Resolve(token string) (module, resource string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return FallbackModule, OpUnknown
	}
	r.mu.RLock()
	m, ok := r.table[strings.ToLower(token)]
	r.mu.RUnlock()
	if ok {
		return m.Module, m.Resource
	}
	return FallbackModule, token
}

// Upsert adds or replaces a mapping at runtime.
func (r *ResourceResolver) Upsert(token, module, resource string) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return
	}
	r.mu.Lock()
	r.table[token] = Mapping{Token: token, Module: module, Resource: resource}
	r.mu.Unlock()
}

// Modules lists every distinct module in the table, sorted.
func (r *ResourceResolver) Modules() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.table))
	for _, m := range r.table {
		seen[m.Module] = struct{}{}
	}
	r.mu.RUnlock()
	modules := make([]string, 0, len(seen))
	for m := range seen {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	return modules
}

// ResourcesByModule lists the distinct resources mapped under a module.
func (r *ResourceResolver) ResourcesByModule(module string) []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, m := range r.table {
		if strings.EqualFold(m.Module, module) {
			seen[m.Resource] = struct{}{}
		}
	}
	r.mu.RUnlock()
	resources := make([]string, 0, len(seen))
	for res := range seen {
		resources = append(resources, res)
	}
	sort.Strings(resources)
	return resources
}

// Mappings returns a snapshot of the table sorted by token.
func (r *ResourceResolver) Mappings() []Mapping {
	r.mu.RLock()
	out := make([]Mapping, 0, len(r.table))
	for _, m := range r.table {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
