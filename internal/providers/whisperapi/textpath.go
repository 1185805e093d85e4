package whisperapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// extractText pulls the transcript out of a response body. path is a dotted
// selector such as "results[0].alternatives[0].transcript"; when it is empty
// or does not match, the top-level "text" field is used.
func extractText(body []byte, path string) (string, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if path != "" {
		if v, ok := lookup(root, path); ok {
			return v, nil
		}
	}
	if m, ok := root.(map[string]any); ok {
		if v, ok := scalar(m["text"]); ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("response has no transcript text")
}

func lookup(root any, path string) (string, bool) {
	cur := root
	for _, part := range strings.Split(path, ".") {
		key, idxs, err := splitIndexes(part)
		if err != nil {
			return "", false
		}
		if key != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return "", false
			}
			if cur, ok = m[key]; !ok {
				return "", false
			}
		}
		for _, idx := range idxs {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return "", false
			}
			cur = arr[idx]
		}
	}
	return scalar(cur)
}

func scalar(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// splitIndexes parses "foo[0][1]" into "foo" and [0 1].
func splitIndexes(token string) (string, []int, error) {
	if token == "" {
		return "", nil, fmt.Errorf("empty path segment")
	}
	br := strings.IndexByte(token, '[')
	if br == -1 {
		return token, nil, nil
	}
	key, rest := token[:br], token[br:]
	var idxs []int
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end == -1 {
			return "", nil, fmt.Errorf("invalid index syntax in %q", token)
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, fmt.Errorf("invalid index in %q: %w", token, err)
		}
		idxs = append(idxs, n)
		rest = rest[end+1:]
	}
	return key, idxs, nil
}
