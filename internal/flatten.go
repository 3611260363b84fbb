package internal

import "strconv"

// Flatten converts a decoded JSON object into a single-level map whose keys
// are dotted paths, e.g. `{"event": {"bot_id": "B1"}}` becomes
// `{"event.bot_id": "B1"}`. Array elements get indexed keys
// ("authorizations[0].user_id") and the array itself stays addressable
// under its own path. Exclusion rules evaluate against the result.
func Flatten(payload map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{})
	for key, value := range payload {
		flattenValue(flat, key, value)
	}
	return flat
}

func flattenValue(flat map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenValue(flat, path+"."+key, child)
		}
	case []interface{}:
		flat[path] = typed
		for i, child := range typed {
			flattenValue(flat, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		flat[path] = value
	}
}
