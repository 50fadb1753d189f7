// Package scope loads the discovery scope from a YAML file.
package scope

import (
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// AllTypes in resource_types selects every registered type.
const AllTypes = "*"

// File is the on-disk scope document.
type File struct {
	Version       string    `yaml:"version" validate:"omitempty,oneof=v1"`
	Accounts      []Account `yaml:"accounts" validate:"required,min=1,dive"`
	Regions       []Region  `yaml:"regions" validate:"required,min=1,dive"`
	ResourceTypes []string  `yaml:"resource_types" validate:"required,min=1,dive,required"`
}

// Account is an account entry.
type Account struct {
	ID    string `yaml:"id" validate:"required,len=12,numeric"`
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
	Email string `yaml:"email" validate:"omitempty,email"`
}

// Region is a region entry. A plain string is shorthand for the code.
type Region struct {
	Code string `yaml:"code" validate:"required"`
	Name string `yaml:"name"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Region) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Code = value.Value
		return nil
	}
	type plain Region
	return value.Decode((*plain)(r))
}

var validate = validator.New()

// Load reads and validates a scope file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read scope file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scope document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scope: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scope: %w", err)
	}
	return &f, nil
}

// Validate checks required fields and formats.
func (f *File) Validate() error {
	return validate.Struct(f)
}

// Resolve converts the file into a resource.Scope. Duplicates are dropped,
// AllTypes expands to known, and any type not in known is an error.
func (f *File) Resolve(known []string) (resource.Scope, error) {
	var s resource.Scope
	for _, a := range f.Accounts {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		s.AddAccount(resource.Account{ID: a.ID, DisplayName: name, Alias: a.Alias, Email: a.Email})
	}
	for _, r := range f.Regions {
		name := r.Name
		if name == "" {
			name = r.Code
		}
		s.AddRegion(resource.Region{Code: r.Code, DisplayName: name})
	}

	var unknown []string
	for _, t := range f.ResourceTypes {
		if t == AllTypes {
			for _, k := range known {
				s.AddResourceType(k)
			}
			continue
		}
		if !slices.Contains(known, t) {
			unknown = append(unknown, t)
			continue
		}
		s.AddResourceType(t)
	}
	if len(unknown) > 0 {
		return resource.Scope{}, fmt.Errorf("unknown resource types: %v", unknown)
	}
	return s, nil
}
