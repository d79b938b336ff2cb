// Package groups loads the group membership map: course member ID to group
// name. The map decides which comment authors are students worth notifying
// about.
package groups

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
)

var ErrNotObject = errors.New("group map must contain a JSON object")

// Unassigned is the group label used when a member has no group name.
const Unassigned = "unassigned"

// Map maps a member ID (decimal string) to a group name.
type Map map[string]string

// Lookup reports the group of a member.
func (m Map) Lookup(memberID int64) (string, bool) {
	g, ok := m[strconv.FormatInt(memberID, 10)]
	return g, ok
}

// Groups returns the distinct group names, sorted.
func (m Map) Groups() []string {
	set := map[string]struct{}{}
	for _, g := range m {
		set[g] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Load reads a group map from a JSON file, or YAML when the extension is
// .yaml/.yml. A missing or malformed file is an error.
func Load(path string) (Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group map: %w", err)
	}
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, fmt.Errorf("parse group map %s: %w", path, err)
	}
	m, err := Parse(jb)
	if err != nil {
		return nil, fmt.Errorf("parse group map %s (%s): %w", path, format, err)
	}
	return m, nil
}

// Parse decodes a JSON object of member ID -> group name. Scalar values are
// stringified; null becomes Unassigned.
func Parse(data []byte) (Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	out := make(Map, len(obj))
	for k, v := range obj {
		switch x := v.(type) {
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		case bool:
			out[k] = strconv.FormatBool(x)
		case nil:
			out[k] = Unassigned
		default:
			return nil, fmt.Errorf("member %q: group name must be a scalar, got %T", k, v)
		}
	}
	return out, nil
}
