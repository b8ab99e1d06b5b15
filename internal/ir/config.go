package ir

// Config is the fully resolved form of a configuration: variables, locals,
// and module calls have been evaluated away, and cross-resource references
// have been replaced by placeholder pointers that the engine resolves
// against live state during apply.
type Config struct {
	Resources []*Resource             `json:"resources"`
	Outputs   map[string]*OutputValue `json:"outputs,omitempty"`
}

// OutputValue is a named value exported by a configuration.
type OutputValue struct {
	Value     any  `json:"value"`
	Sensitive bool `json:"sensitive,omitempty"`
}

// Resource looks up a resource by address. Returns nil when absent.
func (c *Config) Resource(addr string) *Resource {
	for _, r := range c.Resources {
		if r.Addr() == addr {
			return r
		}
	}
	return nil
}
