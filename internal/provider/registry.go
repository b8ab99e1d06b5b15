package provider

import (
	"fmt"
	"sync"

	sdk "github.com/cairn-io/cairn/pkg/provider"
	"github.com/cairn-io/cairn/providers/aws"
	"github.com/cairn-io/cairn/providers/null"
)

// Registry manages the lifecycle of providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]sdk.Interface
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]sdk.Interface),
	}
}

// LoadProvider initializes and registers a provider. Loading the same
// provider twice is a no-op. Only built-in providers are supported;
// out-of-process plugins would hook in here.
func (r *Registry) LoadProvider(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p sdk.Interface
	switch name {
	case "null":
		p = null.New()
	case "aws":
		p = aws.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (sdk.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}
