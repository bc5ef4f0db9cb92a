// Package specfile loads output specifications from YAML job files.
//
// A file either spells the specification out:
//
//	url_metadata_name: url
//	security_rule: {pattern: "^(.*)$", replacement: "$1"}
//	field_map: {title: subject}
//
// or lists it as elements, the way a host stores it:
//
//	elements:
//	  - {kind: urlmetadataname, value: url}
//	  - {kind: securitymap, rule: {pattern: "^(.*)$", replacement: "$1"}}
//	  - {kind: metadatamap, source: title, target: subject}
package specfile

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"docs4usync/internal/types"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "docs4u-spec.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// File is a parsed job file.
type File struct {
	Name            string              `json:"name"`
	URLMetadataName string              `json:"url_metadata_name"`
	SecurityRule    *types.SecurityRule `json:"security_rule"`
	FieldMap        map[string]string   `json:"field_map"`
	Elements        []types.SpecElement `json:"elements"`
}

// Specification folds the file into a validated specification.
func (f *File) Specification() (types.Specification, error) {
	if f.Elements != nil {
		return types.SpecificationFromElements(f.Elements)
	}
	spec := types.Specification{URLMetadataName: f.URLMetadataName}
	if f.SecurityRule != nil {
		spec.SecurityRule = *f.SecurityRule
	}
	if len(f.FieldMap) > 0 {
		spec.FieldMap = f.FieldMap
	}
	if err := spec.Validate(); err != nil {
		return types.Specification{}, err
	}
	return spec, nil
}

// Parse validates YAML (or JSON) content against the specification schema.
func Parse(content []byte) (types.Specification, error) {
	js, err := yaml.YAMLToJSON(content)
	if err != nil {
		return types.Specification{}, fmt.Errorf("%w: %v", types.ErrInvalidSpecification, err)
	}
	if len(bytes.TrimSpace(js)) == 0 || bytes.Equal(bytes.TrimSpace(js), []byte("null")) {
		js = []byte("{}")
	}

	sch, err := schema()
	if err != nil {
		return types.Specification{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(js))
	if err != nil {
		return types.Specification{}, fmt.Errorf("%w: %v", types.ErrInvalidSpecification, err)
	}
	if err := sch.Validate(inst); err != nil {
		return types.Specification{}, fmt.Errorf("%w: %v", types.ErrInvalidSpecification, err)
	}

	var f File
	if err := json.Unmarshal(js, &f); err != nil {
		return types.Specification{}, fmt.Errorf("%w: %v", types.ErrInvalidSpecification, err)
	}
	return f.Specification()
}

// Load reads and parses the file at path.
func Load(path string) (types.Specification, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return types.Specification{}, fmt.Errorf("%w: %v", types.ErrInvalidSpecification, err)
	}
	return Parse(content)
}
