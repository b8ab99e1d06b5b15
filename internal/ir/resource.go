package ir

// Resource is a single managed resource after resolution. Property values
// are plain Go values; references to other resources appear as "ptr://"
// placeholder strings.
type Resource struct {
	Type       string         `json:"type"` // e.g. "vpc", "eks_cluster"
	Name       string         `json:"name"`
	Module     string         `json:"module,omitempty"` // e.g. "network" or "network.subnets"
	Provider   string         `json:"provider"`
	Count      int            `json:"count,omitempty"`
	ForEach    map[string]any `json:"for_each,omitempty"`
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Timeout    string         `json:"timeout,omitempty"` // Go duration, e.g. "20m"
	Properties map[string]any `json:"properties"`
}

// Addr returns the unique address of the resource, e.g. "vpc.main" or
// "module.network.subnet.public" for a resource inside a module.
func (r *Resource) Addr() string {
	if r.Module != "" {
		return "module." + r.Module + "." + r.Type + "." + r.Name
	}
	return r.Type + "." + r.Name
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `json:"create_before_destroy,omitempty"`
	PreventDestroy      bool     `json:"prevent_destroy,omitempty"`
	IgnoreChanges       []string `json:"ignore_changes,omitempty"`
}
