package dag

import (
	"strconv"
	"strings"
)

// Optional is the typed accessor returned by path lookups: Found reports
// whether the path resolved to a value at all (as opposed to resolving to
// an explicit nil, which Optional can still represent via Value == nil &&
// Found == true).
type Optional struct {
	Value interface{}
	Found bool
}

// resolvePath walks dot-separated path segments into a nested
// map[string]interface{}/[]interface{} structure, returning Optional{}
// (not found) on any missing key, non-traversable type, or out-of-range
// index.
func resolvePath(root interface{}, path string) Optional {
	if path == "" {
		return Optional{Value: root, Found: true}
	}
	segments := strings.Split(path, ".")
	cur := root
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[seg]
			if !ok {
				return Optional{}
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return Optional{}
			}
			cur = node[idx]
		default:
			return Optional{}
		}
	}
	return Optional{Value: cur, Found: true}
}

// resolveStepField resolves "status" or "result.<dot.path>" against one
// step's recorded outcome.
func resolveStepField(res StepResult, field string) Optional {
	if field == "status" {
		return Optional{Value: string(res.Status), Found: true}
	}
	const resultPrefix = "result"
	if field == resultPrefix {
		return Optional{Value: res.Value, Found: true}
	}
	if strings.HasPrefix(field, resultPrefix+".") {
		sub := strings.TrimPrefix(field, resultPrefix+".")
		var root interface{} = res.Value
		return resolvePath(root, sub)
	}
	return Optional{}
}

// parseStepFieldRef splits "step:<id>.<field>" into (id, field). ok is false
// if ref does not match the step: prefix form.
func parseStepFieldRef(ref string) (id, field string, ok bool) {
	const prefix = "step:"
	if !strings.HasPrefix(ref, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, prefix)
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return rest, "", true
	}
	return rest[:dot], rest[dot+1:], true
}
