// Package ops holds the operations the service exposes: external tools
// declared in a YAML file and the built-in work functions.
package ops

import (
	"fmt"
	"gridjobs/internal/domain"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// reservedNames are routes of the HTTP API outside the per-operation tree.
var reservedNames = map[string]bool{"ops": true, "healthz": true}

type Catalog struct {
	ops   map[string]domain.Operation
	order []string
}

func NewCatalog() *Catalog {
	return &Catalog{ops: map[string]domain.Operation{}}
}

func (c *Catalog) Register(op domain.Operation) error {
	if !domain.ValidOperationName(op.Name) {
		return fmt.Errorf("invalid operation name %q", op.Name)
	}
	if reservedNames[op.Name] {
		return fmt.Errorf("operation name %q is reserved", op.Name)
	}
	if _, ok := c.ops[op.Name]; ok {
		return fmt.Errorf("operation %s registered twice", op.Name)
	}
	if op.Artifact == "" {
		return fmt.Errorf("operation %s declares no artifact", op.Name)
	}
	if op.Work == nil {
		return fmt.Errorf("operation %s has no work function", op.Name)
	}
	if op.ContentType == "" {
		op.ContentType = "application/octet-stream"
	}
	seen := map[string]bool{}
	for _, f := range op.Fields {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("operation %s: empty or duplicate field %q", op.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case domain.KindFile, domain.KindString, domain.KindFloat, domain.KindInt, domain.KindBool:
		default:
			return fmt.Errorf("operation %s: field %s has unknown kind %q", op.Name, f.Name, f.Kind)
		}
	}
	c.ops[op.Name] = op
	c.order = append(c.order, op.Name)
	return nil
}

func (c *Catalog) Get(name string) (domain.Operation, error) {
	op, ok := c.ops[name]
	if !ok {
		return domain.Operation{}, fmt.Errorf("%w: %s", domain.ErrUnknownOperation, name)
	}
	return op, nil
}

// All returns the operations in registration order.
func (c *Catalog) All() []domain.Operation {
	out := make([]domain.Operation, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.ops[name])
	}
	return out
}

type fileSpec struct {
	Ops []opSpec `yaml:"ops"`
}

type opSpec struct {
	Name        string         `yaml:"name"`
	Fields      []domain.Field `yaml:"fields"`
	Artifact    string         `yaml:"artifact"`
	ContentType string         `yaml:"content_type"`
	Tool        ToolSpec       `yaml:"tool"`
}

// LoadFile registers every operation declared in the YAML file at path.
func (c *Catalog) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading operations file: %w", err)
	}
	return c.Load(b)
}

func (c *Catalog) Load(b []byte) error {
	var spec fileSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return fmt.Errorf("parsing operations file: %w", err)
	}
	var result *multierror.Error
	for _, s := range spec.Ops {
		if len(s.Tool.Command) == 0 {
			result = multierror.Append(result, fmt.Errorf("operation %s: tool.command is empty", s.Name))
			continue
		}
		tool := s.Tool
		tool.Artifact = s.Artifact
		if err := c.Register(domain.Operation{
			Name:        s.Name,
			Fields:      s.Fields,
			Artifact:    s.Artifact,
			ContentType: s.ContentType,
			Work:        tool.Work,
		}); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Builtins holds settings of the work functions implemented in Go.
type Builtins struct {
	NOAABaseURL    string
	WeatherTimeout time.Duration
}

func (c *Catalog) RegisterBuiltins(b Builtins) error {
	return c.Register(WeatherOperation(b.NOAABaseURL, b.WeatherTimeout))
}
