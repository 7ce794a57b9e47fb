// Package schema validates derived claim payloads: a claim contract's
// output_schema is compiled once (Draft 2020-12) and applied
// deterministically, emitting a canonically ordered list of
// {path, code} violations from a fixed, stable code enumeration.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/truthmesh/core/pkg/errkit"
)

// Stable violation codes. Keyword names not in this table fall back to
// "schema_violation".
var keywordToCode = map[string]string{
	"type":                 "type_mismatch",
	"required":             "missing_required",
	"enum":                 "enum_violation",
	"const":                "enum_violation",
	"minimum":              "range_violation",
	"maximum":              "range_violation",
	"exclusiveMinimum":     "range_violation",
	"exclusiveMaximum":     "range_violation",
	"minLength":            "range_violation",
	"maxLength":            "range_violation",
	"minItems":             "range_violation",
	"maxItems":             "range_violation",
	"additionalProperties": "additional_property",
}

// Validator compiles and caches output_schema documents by claim-type id.
type Validator struct {
	mu     sync.RWMutex
	schema map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator ready to Compile schemas into.
func NewValidator() *Validator {
	return &Validator{schema: make(map[string]*jsonschema.Schema)}
}

// Compile parses and caches a claim type's output_schema document under
// its id. Call once per claim type; the compiled form is reused for
// every subsequent Validate call.
func (v *Validator) Compile(claimTypeID string, outputSchema map[string]interface{}) error {
	b, err := marshalSchema(outputSchema)
	if err != nil {
		return fmt.Errorf("schema: marshal %s: %w", claimTypeID, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://truthmesh.local/schemas/%s.json", claimTypeID)
	if err := c.AddResource(url, strings.NewReader(string(b))); err != nil {
		return fmt.Errorf("schema: add resource %s: %w", claimTypeID, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema: compile %s: %w", claimTypeID, err)
	}
	v.mu.Lock()
	v.schema[claimTypeID] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks payload against the compiled schema for claimTypeID and
// returns a canonically ordered (by path, then code) list of violations,
// or nil if the payload is valid.
func (v *Validator) Validate(claimTypeID string, payload map[string]interface{}) ([]*errkit.Error, error) {
	v.mu.RLock()
	compiled, ok := v.schema[claimTypeID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema: no compiled schema for claim type %s", claimTypeID)
	}

	err := compiled.Validate(payload)
	if err == nil {
		return nil, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []*errkit.Error{errkit.SchemaViolation("", "schema_violation")}, nil
	}

	var violations []*errkit.Error
	collectLeaves(ve, &violations)
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Code < violations[j].Code
	})
	return violations, nil
}

// FirstViolation returns the single canonical error surfaced to the
// compiler: first by path, then by code.
func FirstViolation(violations []*errkit.Error) *errkit.Error {
	return errkit.SelectCanonicalError(violations)
}

// collectLeaves walks a jsonschema ValidationError tree depth-first,
// siblings by lexicographic key, appending a leaf violation for each cause with
// no further causes of its own.
func collectLeaves(ve *jsonschema.ValidationError, out *[]*errkit.Error) {
	if len(ve.Causes) == 0 {
		path := instancePath(ve.InstanceLocation)
		code := codeForKeyword(ve.KeywordLocation)
		*out = append(*out, errkit.SchemaViolation(path, code))
		return
	}
	causes := make([]*jsonschema.ValidationError, len(ve.Causes))
	copy(causes, ve.Causes)
	sort.Slice(causes, func(i, j int) bool {
		return causes[i].InstanceLocation < causes[j].InstanceLocation
	})
	for _, c := range causes {
		collectLeaves(c, out)
	}
}

// instancePath converts a jsonschema JSON-pointer instance location
// ("/a/0/b") into a dotted claim path ("claim.a.0.b").
func instancePath(loc string) string {
	loc = strings.TrimPrefix(loc, "/")
	if loc == "" {
		return "claim"
	}
	return "claim." + strings.ReplaceAll(loc, "/", ".")
}

// codeForKeyword maps a validation failure's final schema keyword to its
// stable violation code.
func codeForKeyword(keywordLocation string) string {
	segs := strings.Split(strings.Trim(keywordLocation, "/"), "/")
	keyword := segs[len(segs)-1]
	if code, ok := keywordToCode[keyword]; ok {
		return code
	}
	return "schema_violation"
}

func marshalSchema(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}
