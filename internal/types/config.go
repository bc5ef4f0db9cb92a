package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultSessionLifetime is how long an idle Docs4U session stays open.
	DefaultSessionLifetime = 300000 * time.Millisecond
	// DefaultCacheLifetime is how long a resolved user/group ID stays in the identity cache.
	DefaultCacheLifetime = 300000 * time.Millisecond
	// DefaultLookupTimeout bounds a single remote user/group lookup, including the lock wait.
	DefaultLookupTimeout = 30 * time.Second
)

// ConnectionConfig is the per-connection configuration handed to Connect.
// RootDirectory names the Docs4U repository and doubles as the identity cache scope.
type ConnectionConfig struct {
	RootDirectory string `json:"root_directory" yaml:"root_directory"`
}

func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.RootDirectory) == "" {
		return fmt.Errorf("%w: root_directory is required", ErrInvalidConfig)
	}
	return nil
}

// ScopeKey partitions identity cache entries; names may resolve differently per repository.
func (c ConnectionConfig) ScopeKey() string {
	return c.RootDirectory
}

// SecurityRule rewrites an access token before it is resolved to a Docs4U user/group ID.
// The zero value is "no rule": every token passes through unchanged.
// Pattern uses RE2 syntax. Replacement is a template in the syntax of
// regexp.Regexp.Expand ($1, ${1}, ${name}).
type SecurityRule struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

func (r SecurityRule) IsZero() bool {
	return r.Pattern == "" && r.Replacement == ""
}

// Compile returns the compiled pattern, or nil when the rule has no pattern.
func (r SecurityRule) Compile() (*regexp.Regexp, error) {
	if r.Pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: security rule pattern %q: %v", ErrInvalidSpecification, r.Pattern, err)
	}
	return re, nil
}

// Specification is the per-job output specification.
// FieldMap maps source metadata field names to Docs4U metadata field names; unmapped
// source fields are dropped. A nil and an empty FieldMap are the same specification.
type Specification struct {
	URLMetadataName string            `json:"url_metadata_name" yaml:"url_metadata_name"`
	SecurityRule    SecurityRule      `json:"security_rule" yaml:"security_rule"`
	FieldMap        map[string]string `json:"field_map,omitempty" yaml:"field_map,omitempty"`
}

func (s Specification) Validate() error {
	if _, err := s.SecurityRule.Compile(); err != nil {
		return err
	}
	for source, target := range s.FieldMap {
		if source == "" || target == "" {
			return fmt.Errorf("%w: field map entries need both a source and a target", ErrInvalidSpecification)
		}
	}
	return nil
}

// SpecElementKind tags one element of a host-supplied specification node list.
type SpecElementKind string

const (
	ElementURLMetadataName SpecElementKind = "urlmetadataname"
	ElementSecurityMap     SpecElementKind = "securitymap"
	ElementMetadataMap     SpecElementKind = "metadatamap"
)

// SpecElement is one node of a specification as a host stores it. Only the fields that
// belong to Kind are meaningful.
type SpecElement struct {
	Kind SpecElementKind `json:"kind" yaml:"kind"`
	// ElementURLMetadataName
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	// ElementSecurityMap
	Rule SecurityRule `json:"rule,omitempty" yaml:"rule,omitempty"`
	// ElementMetadataMap
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// SpecificationFromElements folds a node list into a Specification.
// A specification holds at most one security rule; a second securitymap element is an
// error rather than silently replacing the first. Duplicate metadata map sources keep
// the last target.
func SpecificationFromElements(elements []SpecElement) (Specification, error) {
	var spec Specification
	seenRule := false
	for i, el := range elements {
		switch el.Kind {
		case ElementURLMetadataName:
			spec.URLMetadataName = el.Value
		case ElementSecurityMap:
			if seenRule {
				return Specification{}, fmt.Errorf("%w: element %d: only one security map is allowed", ErrInvalidSpecification, i)
			}
			seenRule = true
			spec.SecurityRule = el.Rule
		case ElementMetadataMap:
			if spec.FieldMap == nil {
				spec.FieldMap = make(map[string]string)
			}
			spec.FieldMap[el.Source] = el.Target
		default:
			return Specification{}, fmt.Errorf("%w: element %d: unknown kind %q", ErrInvalidSpecification, i, el.Kind)
		}
	}
	if err := spec.Validate(); err != nil {
		return Specification{}, err
	}
	return spec, nil
}
