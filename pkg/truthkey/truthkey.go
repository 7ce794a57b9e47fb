// Package truthkey implements the six-segment canonical claim address
// {domain, topic, spatial_system, spatial_id, z_index,
// time_bucket}. The string and struct forms are bijective after
// canonicalization.
package truthkey

import (
	"fmt"
	"regexp"
	"strings"
)

// TruthKey is the canonical, colon-delimited address of a physical claim
// across space and time.
type TruthKey struct {
	Domain        string
	Topic         string
	SpatialSystem string
	SpatialID     string
	ZIndex        string
	TimeBucket    string // canonical bucket-start, "YYYY-MM-DDTHH:MMZ"
}

var segmentRe = regexp.MustCompile(`^[a-z0-9._-]+$`)
var bucketRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}Z$`)
var hexID32Re = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Build validates and canonicalizes a TruthKey struct, lowercasing every
// segment (except time_bucket, which is already canonical by
// construction) and rejecting segments outside [a-z0-9._-].
func Build(k TruthKey) (TruthKey, error) {
	out := TruthKey{
		Domain:        strings.ToLower(k.Domain),
		Topic:         strings.ToLower(k.Topic),
		SpatialSystem: strings.ToLower(k.SpatialSystem),
		SpatialID:     strings.ToLower(k.SpatialID),
		ZIndex:        strings.ToLower(k.ZIndex),
		TimeBucket:    k.TimeBucket,
	}

	for name, seg := range map[string]string{
		"domain": out.Domain, "topic": out.Topic,
		"spatial_system": out.SpatialSystem, "spatial_id": out.SpatialID,
		"z_index": out.ZIndex,
	} {
		if seg == "" || !segmentRe.MatchString(seg) {
			return TruthKey{}, fmt.Errorf("truthkey: invalid segment %s=%q", name, seg)
		}
	}

	if !bucketRe.MatchString(out.TimeBucket) {
		return TruthKey{}, fmt.Errorf("truthkey: invalid time_bucket %q", out.TimeBucket)
	}

	if out.SpatialSystem == "meta" && !hexID32Re.MatchString(out.SpatialID) {
		return TruthKey{}, fmt.Errorf("truthkey: meta spatial_id must be a 32-character hex id")
	}

	return out, nil
}

// String renders the canonical colon-delimited form.
func (k TruthKey) String() string {
	return strings.Join([]string{
		k.Domain, k.Topic, k.SpatialSystem, k.SpatialID, k.ZIndex, k.TimeBucket,
	}, ":")
}

// Parse parses a canonical colon-delimited string back into a TruthKey,
// re-validating every segment through Build so Parse(String(k)) == k.
func Parse(s string) (TruthKey, error) {
	// At most 6 parts: the time_bucket segment itself contains a ':'.
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 {
		return TruthKey{}, fmt.Errorf("truthkey: expected 6 segments, got %d", len(parts))
	}
	return Build(TruthKey{
		Domain:        parts[0],
		Topic:         parts[1],
		SpatialSystem: parts[2],
		SpatialID:     parts[3],
		ZIndex:        parts[4],
		TimeBucket:    parts[5],
	})
}
