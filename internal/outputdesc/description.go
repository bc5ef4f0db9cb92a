// Package outputdesc encodes an output specification into the opaque version string
// the host stores per document, and decodes it back.
//
// Layout, with every value backslash-escaped against its own delimiter:
//
//	<urlMetadataName>+<rule>+<count>,<mapping>,...<mapping>,
//
// where <rule> is "<pattern>=<replacement>=" and each <mapping> is
// "<source>:<target>:". Mappings are sorted by source name so that equal field maps
// always encode identically.
package outputdesc

import (
	"fmt"
	"sort"
	"strings"

	"docs4usync/internal/types"
)

const (
	sectionDelim = '+'
	ruleDelim    = '='
	listDelim    = ','
	mappingDelim = ':'
)

// Encode returns the output description for spec. It is a pure function of the
// specification's content.
func Encode(spec types.Specification) string {
	var sb strings.Builder

	pack(&sb, spec.URLMetadataName, sectionDelim)

	var rule strings.Builder
	packFixed(&rule, []string{spec.SecurityRule.Pattern, spec.SecurityRule.Replacement}, ruleDelim)
	pack(&sb, rule.String(), sectionDelim)

	sources := make([]string, 0, len(spec.FieldMap))
	for source := range spec.FieldMap {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	mappings := make([]string, 0, len(sources))
	for _, source := range sources {
		var m strings.Builder
		packFixed(&m, []string{source, spec.FieldMap[source]}, mappingDelim)
		mappings = append(mappings, m.String())
	}
	packList(&sb, mappings, listDelim)

	return sb.String()
}

// Decode is the exact inverse of Encode. The security rule pattern is compiled as part
// of decoding so a description that cannot be used fails here. Without mappings the
// decoded FieldMap is nil, since an empty map encodes exactly like a nil one.
func Decode(description string) (types.Specification, error) {
	urlName, pos, err := unpack(description, 0, sectionDelim)
	if err != nil {
		return types.Specification{}, err
	}
	ruleStr, pos, err := unpack(description, pos, sectionDelim)
	if err != nil {
		return types.Specification{}, err
	}
	ruleParts, err := unpackFixed(ruleStr, 2, ruleDelim)
	if err != nil {
		return types.Specification{}, fmt.Errorf("security rule: %w", err)
	}
	mappings, pos, err := unpackList(description, pos, listDelim)
	if err != nil {
		return types.Specification{}, err
	}
	if pos != len(description) {
		return types.Specification{}, fmt.Errorf("%w: %d trailing bytes", types.ErrMalformedDescription, len(description)-pos)
	}

	spec := types.Specification{
		URLMetadataName: urlName,
		SecurityRule:    types.SecurityRule{Pattern: ruleParts[0], Replacement: ruleParts[1]},
	}
	if len(mappings) > 0 {
		spec.FieldMap = make(map[string]string, len(mappings))
	}
	for _, m := range mappings {
		parts, err := unpackFixed(m, 2, mappingDelim)
		if err != nil {
			return types.Specification{}, fmt.Errorf("field mapping: %w", err)
		}
		spec.FieldMap[parts[0]] = parts[1]
	}
	if _, err := spec.SecurityRule.Compile(); err != nil {
		return types.Specification{}, types.Err(types.ErrMalformedDescription, err, "")
	}
	return spec, nil
}

// DecodeURLMetadataName reads only the leading URL metadata name, which is all a
// removal needs.
func DecodeURLMetadataName(description string) (string, error) {
	name, _, err := unpack(description, 0, sectionDelim)
	return name, err
}
