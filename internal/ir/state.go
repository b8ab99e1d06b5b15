package ir

// State is the persisted record of everything previously applied. The
// engine treats it as opaque input to planning; only apply mutates it.
type State struct {
	Version   int                     `json:"version"`
	Serial    int                     `json:"serial"`
	Lineage   string                  `json:"lineage"`
	Resources []*ResourceState        `json:"resources"`
	Outputs   map[string]*OutputValue `json:"outputs,omitempty"`
}

type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Module       string         `json:"module,omitempty"`
	Provider     string         `json:"provider"`
	Inputs       map[string]any `json:"inputs"` // config as applied
	InputsHash   string         `json:"inputs_hash"`
	Outputs      map[string]any `json:"outputs"` // provider returned
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Addr returns the resource's address, matching Resource.Addr for the
// declaration that produced it.
func (rs *ResourceState) Addr() string {
	if rs.Module != "" {
		return "module." + rs.Module + "." + rs.Type + "." + rs.Name
	}
	return rs.Type + "." + rs.Name
}

// Resource looks up a resource state by address. Returns nil when absent.
func (s *State) Resource(addr string) *ResourceState {
	for _, rs := range s.Resources {
		if rs.Addr() == addr {
			return rs
		}
	}
	return nil
}
