package provider

import "encoding/json"

// tryParseJSONList attempts to decode s as a JSON array of strings. It
// returns ok=false rather than an error for any malformed input, since list
// parsing must never raise.
func tryParseJSONList(s string) (items []string, ok bool) {
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out, true
}
