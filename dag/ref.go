package dag

import (
	"regexp"

	"github.com/shreyasdbz/axis/core"
)

var refPattern = regexp.MustCompile(`^\$ref:step:([a-zA-Z0-9_-]+)(?:\.(.+))?$`)

// resolveReferences walks parameters recursively, replacing any string that
// matches refPattern with the referent step's completed value (or the
// sub-value at the given dot path). Unresolved references (unknown step or
// missing path) are left as the literal string with a warning logged, at the
// top level and inside nested maps and arrays alike.
func resolveReferences(params map[string]interface{}, acc resultAccessor, logger core.Logger) map[string]interface{} {
	if params == nil {
		return nil
	}
	resolved, _ := resolveValue(params, acc, logger).(map[string]interface{})
	return resolved
}

func resolveValue(v interface{}, acc resultAccessor, logger core.Logger) interface{} {
	switch val := v.(type) {
	case string:
		m := refPattern.FindStringSubmatch(val)
		if m == nil {
			return val
		}
		stepID, path := m[1], m[2]
		res, found := acc.get(stepID)
		if !found {
			logger.Warn("unresolved step reference: unknown step", map[string]interface{}{"ref": val})
			return val
		}
		lookup := resolveStepField(res, joinResultPath(path))
		if !lookup.Found {
			logger.Warn("unresolved step reference: missing path", map[string]interface{}{"ref": val})
			return val
		}
		return lookup.Value
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolveValue(item, acc, logger)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, acc, logger)
		}
		return out
	default:
		return val
	}
}

// joinResultPath turns a $ref's optional dot path (relative to the step's
// result, e.g. "user.id") into the "result.user.id" field form
// resolveStepField expects. An empty path means the whole result.
func joinResultPath(path string) string {
	if path == "" {
		return "result"
	}
	return "result." + path
}
