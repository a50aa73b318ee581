// Package protocols holds the extraction protocols: the fixed mapping from a
// route to the instruction template the agent follows on that route.
package protocols

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed protocols.yaml
var embedded []byte

// ErrUnknownRoute is returned by Resolve for an unregistered identifier.
var ErrUnknownRoute = errors.New("unknown extraction route")

// Kinds of output document.
const (
	KindArray  = "array"
	KindObject = "object"
)

// Shape is the output contract of a protocol.
type Shape struct {
	Kind   string   `yaml:"kind"`
	Fields []string `yaml:"fields"`
}

// Protocol binds a route to its rendered instruction. Values are immutable.
type Protocol struct {
	ID          string
	Route       string
	Instruction string
	Output      Shape
}

// Vars are the values rendered into instruction templates.
type Vars struct {
	MaxPages int
}

type file struct {
	Protocols []struct {
		ID          string `yaml:"id"`
		Route       string `yaml:"route"`
		Output      Shape  `yaml:"output"`
		Instruction string `yaml:"instruction"`
	} `yaml:"protocols"`
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	byID map[string]Protocol
}

// Default loads the embedded protocol set.
func Default(vars Vars) (*Registry, error) {
	return Load(embedded, vars)
}

// Load parses a protocol document and renders every instruction with vars.
func Load(data []byte, vars Vars) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse protocols: %w", err)
	}
	r := &Registry{byID: make(map[string]Protocol, len(f.Protocols))}
	for _, p := range f.Protocols {
		if p.ID == "" || p.Route == "" {
			return nil, fmt.Errorf("protocol %q: id and route are required", p.ID)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("protocol %q defined twice", p.ID)
		}
		if p.Output.Kind != KindArray && p.Output.Kind != KindObject {
			return nil, fmt.Errorf("protocol %q: output kind must be %q or %q", p.ID, KindArray, KindObject)
		}
		tmpl, err := template.New(p.ID).Option("missingkey=error").Parse(p.Instruction)
		if err != nil {
			return nil, fmt.Errorf("protocol %q: %w", p.ID, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, vars); err != nil {
			return nil, fmt.Errorf("protocol %q: %w", p.ID, err)
		}
		r.byID[p.ID] = Protocol{
			ID:          p.ID,
			Route:       p.Route,
			Instruction: buf.String(),
			Output:      Shape{Kind: p.Output.Kind, Fields: append([]string(nil), p.Output.Fields...)},
		}
	}
	return r, nil
}

// Resolve returns the protocol registered under id.
func (r *Registry) Resolve(id string) (Protocol, error) {
	p, ok := r.byID[id]
	if !ok {
		return Protocol{}, fmt.Errorf("%w: %q", ErrUnknownRoute, id)
	}
	return p, nil
}

// All returns every protocol ordered by id.
func (r *Registry) All() []Protocol {
	out := make([]Protocol, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate reports whether raw conforms to the shape: the right document kind
// and every required field present on each record.
func (s Shape) Validate(raw json.RawMessage) error {
	switch s.Kind {
	case KindObject:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("want a JSON object: %w", err)
		}
		return s.checkFields(obj, -1)
	case KindArray:
		var arr []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return fmt.Errorf("want a JSON array of objects: %w", err)
		}
		for i, obj := range arr {
			if err := s.checkFields(obj, i); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output kind %q", s.Kind)
	}
}

func (s Shape) checkFields(obj map[string]json.RawMessage, idx int) error {
	for _, f := range s.Fields {
		if _, ok := obj[f]; !ok {
			if idx >= 0 {
				return fmt.Errorf("record %d: missing field %q", idx, f)
			}
			return fmt.Errorf("missing field %q", f)
		}
	}
	return nil
}
