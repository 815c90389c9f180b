package domain

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

type FieldKind string

const (
	KindFile   FieldKind = "file"
	KindString FieldKind = "string"
	KindFloat  FieldKind = "float"
	KindInt    FieldKind = "int"
	KindBool   FieldKind = "bool"
)

// Field is one declared input of an operation. File fields are persisted
// under SaveAs (or Name when empty), value fields go to the inputs document.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	SaveAs   string    `yaml:"save_as,omitempty" json:"save_as,omitempty"`
	Optional bool      `yaml:"optional,omitempty" json:"optional,omitempty"`
}

func (f Field) FileName() string {
	if f.SaveAs != "" {
		return f.SaveAs
	}
	return f.Name
}

// Workspace is the view of a task directory handed to a work function.
type Workspace interface {
	ID() string
	// Dir is the real directory of the workspace, or "" when the backing
	// filesystem is not the operating system's.
	Dir() string
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Field(name string) string
}

// WorkFunc reads its inputs from ws and either writes the operation artifact
// or returns an error.
type WorkFunc func(ctx context.Context, ws Workspace) error

type Operation struct {
	Name        string
	Fields      []Field
	Artifact    string
	ContentType string
	Work        WorkFunc
}

// Payload is the raw launch input. Readers in Files are consumed once.
type Payload struct {
	Fields map[string]string
	Files  map[string]io.Reader
}

var opNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

func ValidOperationName(name string) bool {
	return opNameRe.MatchString(name)
}

// Validate checks p against the declared fields of o.
func (o Operation) Validate(p Payload) error {
	for _, f := range o.Fields {
		if f.Kind == KindFile {
			if r, ok := p.Files[f.Name]; !ok || r == nil {
				if f.Optional {
					continue
				}
				return &ValidationError{Field: f.Name, Reason: "file is required"}
			}
			continue
		}

		v, ok := p.Fields[f.Name]
		if !ok || strings.TrimSpace(v) == "" {
			if f.Optional {
				continue
			}
			return &ValidationError{Field: f.Name, Reason: "value is required"}
		}
		if err := checkKind(f.Kind, v); err != nil {
			return &ValidationError{Field: f.Name, Reason: err.Error()}
		}
	}
	return nil
}

func checkKind(kind FieldKind, v string) error {
	var err error
	switch kind {
	case KindFloat:
		_, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	case KindInt:
		_, err = strconv.Atoi(strings.TrimSpace(v))
	case KindBool:
		_, err = strconv.ParseBool(strings.TrimSpace(v))
	}
	if err != nil {
		return fmt.Errorf("not a valid %s", kind)
	}
	return nil
}
