// Package ontology declares the entity labels the extraction pipeline is
// allowed to produce, each with a fixed attribute schema, plus a runtime
// registry for user-provided custom labels. Validation happens at the LLM
// boundary: items that do not conform are dropped, never fatal.
package ontology

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// AttributeType is the declared type of a label attribute.
type AttributeType string

const (
	TypeString AttributeType = "string"
	TypeInt    AttributeType = "int"
	TypeFloat  AttributeType = "float"
	TypeBool   AttributeType = "bool"
	TypeTime   AttributeType = "time"
)

// AttributeSchema describes one typed attribute of a label.
type AttributeSchema struct {
	Name        string        `yaml:"name"`
	Type        AttributeType `yaml:"type"`
	Description string        `yaml:"description,omitempty"`
}

// Label is one ontology tag with its attribute record.
type Label struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Attributes  []AttributeSchema `yaml:"attributes,omitempty"`
}

// Ontology is the set of known labels. The built-in labels are statically
// declared; Register extends the set at runtime for custom deployments.
type Ontology struct {
	mu     sync.RWMutex
	labels map[string]Label
}

// Default returns an ontology with the built-in label set.
func Default() *Ontology {
	o := &Ontology{labels: make(map[string]Label)}
	for _, l := range builtinLabels {
		o.labels[l.Name] = l
	}
	return o
}

var builtinLabels = []Label{
	{
		Name:        "Person",
		Description: "An individual human being.",
		Attributes: []AttributeSchema{
			{Name: "role", Type: TypeString, Description: "Job title or function"},
			{Name: "email", Type: TypeString},
		},
	},
	{
		Name:        "Organization",
		Description: "A company, team, institution, or other collective.",
		Attributes: []AttributeSchema{
			{Name: "industry", Type: TypeString},
			{Name: "headquarters", Type: TypeString},
		},
	},
	{
		Name:        "Location",
		Description: "A geographic place.",
	},
	{
		Name:        "Document",
		Description: "A written artifact: report, issue, message thread, page.",
		Attributes: []AttributeSchema{
			{Name: "url", Type: TypeString},
		},
	},
	{
		Name:        "Event",
		Description: "Something that happened at a point or interval in time.",
		Attributes: []AttributeSchema{
			{Name: "occurred_at", Type: TypeTime},
		},
	},
	{
		Name:        "Service",
		Description: "A software system, product, or running service.",
		Attributes: []AttributeSchema{
			{Name: "version", Type: TypeString},
		},
	},
}

// Register adds or replaces a custom label. The label name must be non-empty.
func (o *Ontology) Register(l Label) error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("ontology: label name cannot be empty")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.labels[l.Name] = l
	return nil
}

// Lookup returns the label definition, if known.
func (o *Ontology) Lookup(name string) (Label, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	l, ok := o.labels[name]
	return l, ok
}

// Labels returns all known labels sorted by name.
func (o *Ontology) Labels() []Label {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Label, 0, len(o.labels))
	for _, l := range o.labels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateEntity checks an extracted entity against the schema of its label.
// Unknown labels are rejected. Attributes not declared by the label, or whose
// values fail the declared type, are silently dropped; the cleaned attribute
// bag is returned.
func (o *Ontology) ValidateEntity(label string, attrs map[string]interface{}) (map[string]interface{}, error) {
	def, ok := o.Lookup(label)
	if !ok {
		return nil, fmt.Errorf("ontology: unknown label %q", label)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	declared := make(map[string]AttributeType, len(def.Attributes))
	for _, a := range def.Attributes {
		declared[a.Name] = a.Type
	}
	cleaned := make(map[string]interface{})
	for k, v := range attrs {
		t, ok := declared[k]
		if !ok {
			continue
		}
		if cv, ok := coerce(t, v); ok {
			cleaned[k] = cv
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	return cleaned, nil
}

// coerce converts an attribute value to the declared type where the
// conversion is unambiguous.
func coerce(t AttributeType, v interface{}) (interface{}, bool) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			if n == float64(int(n)) {
				return int(n), true
			}
		}
		return nil, false
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
		return nil, false
	case TypeBool:
		b, ok := v.(bool)
		return b, ok
	case TypeTime:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, false
		}
		return ts.UTC(), true
	}
	return nil, false
}

// PromptDescription renders the ontology for inclusion in extraction prompts.
func (o *Ontology) PromptDescription() string {
	var b strings.Builder
	for _, l := range o.Labels() {
		fmt.Fprintf(&b, "- %s: %s", l.Name, l.Description)
		if len(l.Attributes) > 0 {
			names := make([]string, len(l.Attributes))
			for i, a := range l.Attributes {
				names[i] = fmt.Sprintf("%s (%s)", a.Name, a.Type)
			}
			fmt.Fprintf(&b, " Attributes: %s.", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ontologyFile is the YAML shape accepted by LoadFile.
type ontologyFile struct {
	Labels []Label `yaml:"labels"`
}

// LoadFile reads custom labels from a YAML file and registers them on top of
// the built-in set.
func LoadFile(path string) (*Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ontology: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds an ontology from YAML bytes, layered over the defaults.
func Parse(data []byte) (*Ontology, error) {
	var f ontologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ontology: parse: %w", err)
	}
	o := Default()
	for _, l := range f.Labels {
		if err := o.Register(l); err != nil {
			return nil, err
		}
	}
	return o, nil
}
