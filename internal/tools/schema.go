package tools

import (
	"sort"
	"strings"
)

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	// TypeAccount accepts a hex address or an alias bound in the session.
	TypeAccount ParamType = "account"
	// TypeAddress accepts a hex address only.
	TypeAddress ParamType = "address"
	// TypeAmount is a positive decimal converted to base units of the token
	// named by Param.TokenParam.
	TypeAmount  ParamType = "amount"
	TypeToken   ParamType = "token"
	TypeBps     ParamType = "bps"
	TypeString  ParamType = "string"
	TypeStrings ParamType = "string_list"
	TypeInteger ParamType = "integer"
)

// Kind tells the orchestrator who executes a tool.
type Kind string

const (
	KindChain Kind = "chain"
	KindLocal Kind = "local"
)

// Param declares one tool argument.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	// TokenParam names the token parameter whose decimals scale an amount.
	// Amounts without one are denominated in ETH.
	TokenParam string `json:"token_param,omitempty"`
	// Default is used for optional parameters the caller omitted.
	Default string `json:"default,omitempty"`
	Min     int64  `json:"min,omitempty"`
	Max     int64  `json:"max,omitempty"`
}

// Schema describes a tool: its parameters, result shape and execution kind.
type Schema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Result      string  `json:"result"`
	Kind        Kind    `json:"kind"`
	// Detached tools submit transactions. Once started they run to
	// completion even if the requesting turn is cancelled.
	Detached bool `json:"detached"`
}

// Param returns the declaration named name.
func (s Schema) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// JSONSchema renders the parameters as a JSON-Schema object, the format
// function-calling models expect.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"description": p.Description}
		switch p.Type {
		case TypeStrings:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		case TypeInteger, TypeBps:
			prop["type"] = "integer"
		default:
			prop["type"] = "string"
		}
		if p.Default != "" {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Summary renders a one-line signature such as "transfer(from, to, amount, token?)".
func (s Schema) Summary() string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
		if !p.Required {
			names[i] += "?"
		}
	}
	return s.Name + "(" + strings.Join(names, ", ") + ")"
}
