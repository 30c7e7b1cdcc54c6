package rule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var templatePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Lookup resolves a dotted path such as "asset.isCritical" in evt.
func Lookup(evt EventContext, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = map[string]interface{}(evt)
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case EventContext:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case map[interface{}]interface{}:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// RenderParameters returns a copy of params with ${path} placeholders in
// string values replaced from evt. A string that is exactly one placeholder
// is replaced by the raw value so numbers and booleans keep their type.
// Unresolved placeholders are left as written.
func RenderParameters(params map[string]interface{}, evt EventContext) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = renderValue(v, evt)
	}
	return out
}

func renderValue(v interface{}, evt EventContext) interface{} {
	switch val := v.(type) {
	case string:
		return renderString(val, evt)
	case map[string]interface{}:
		return RenderParameters(val, evt)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = renderValue(item, evt)
		}
		return out
	default:
		return v
	}
}

func renderString(template string, evt EventContext) interface{} {
	if !strings.Contains(template, "${") {
		return template
	}

	if m := templatePattern.FindStringSubmatch(template); m != nil && m[0] == template {
		if value, ok := Lookup(evt, m[1]); ok {
			return value
		}
		return template
	}

	return templatePattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		path := placeholder[2 : len(placeholder)-1]
		value, ok := Lookup(evt, path)
		if !ok {
			return placeholder
		}
		return ToString(value)
	})
}

// ToString converts a context value to its string representation
func ToString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	case map[string]interface{}, []interface{}:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(jsonBytes)
	default:
		return fmt.Sprintf("%v", v)
	}
}
