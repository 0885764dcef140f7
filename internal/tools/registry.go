package tools

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"ChainPilot/internal/web3"
)

// ErrAlreadyExists is returned when a tool name is registered twice.
var ErrAlreadyExists = errors.New("tool already registered")

// Registry holds the tool schemas offered to the reasoning capability and
// validates the arguments it produces. Schemas are registered at startup and
// read-only afterwards.
type Registry struct {
	mu              sync.RWMutex
	order           []string
	schemas         map[string]Schema
	tokens          *web3.TokenRegistry
	defaultSlippage uint32
}

// DefaultSlippageBps is the slippage bound used when the configuration does
// not set one.
const DefaultSlippageBps uint32 = 50

// NewRegistry creates an empty registry resolving tokens through tokens.
// defaultSlippageBps fills omitted bps parameters.
func NewRegistry(tokens *web3.TokenRegistry, defaultSlippageBps uint32) *Registry {
	if tokens == nil {
		tokens = web3.MustTokenRegistry(web3.DefaultTokens()...)
	}
	return &Registry{
		schemas:         make(map[string]Schema),
		tokens:          tokens,
		defaultSlippage: defaultSlippageBps,
	}
}

// NewDefaultRegistry creates a registry preloaded with the built-in tools.
func NewDefaultRegistry(tokens *web3.TokenRegistry, defaultSlippageBps uint32) *Registry {
	r := NewRegistry(tokens, defaultSlippageBps)
	for _, s := range Builtin() {
		r.MustRegister(s)
	}
	return r
}

// Register adds a schema. Amount parameters must reference a declared token
// parameter.
func (r *Registry) Register(s Schema) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return errors.New("tool name is required")
	}
	for _, p := range s.Params {
		if p.Type == TypeAmount && p.TokenParam != "" {
			if tp, ok := s.Param(p.TokenParam); !ok || tp.Type != TypeToken {
				return fmt.Errorf("tool %s: amount %s references unknown token parameter %s", s.Name, p.Name, p.TokenParam)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.schemas[s.Name]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, s.Name)
	}
	r.schemas[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// MustRegister is Register for static schema lists.
func (r *Registry) MustRegister(s Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup returns the schema for name.
func (r *Registry) Lookup(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Schemas returns every schema in registration order.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schemas[name])
	}
	return out
}

// Tokens returns the token registry used for validation.
func (r *Registry) Tokens() *web3.TokenRegistry { return r.tokens }

// DefaultSlippageBps returns the configured slippage bound.
func (r *Registry) DefaultSlippageBps() uint32 { return r.defaultSlippage }
