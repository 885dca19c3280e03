package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Reply is the structured answer expected from the model.
type Reply struct {
	Message string `json:"message"`
	Action  Action `json:"action"`
	Data    Data   `json:"data"`
}

// ParseReply extracts the first well-formed JSON object from raw model
// output. Leading or trailing prose and code fences are ignored.
func ParseReply(raw string) (Reply, error) {
	if r, ok := decodeReply(raw); ok {
		return r, nil
	}

	stripped := strings.Trim(strings.TrimSpace(raw), "`")
	if len(stripped) >= 4 && strings.EqualFold(stripped[:4], "json") {
		stripped = strings.TrimSpace(stripped[4:])
	}
	if r, ok := decodeReply(stripped); ok {
		return r, nil
	}

	for i := strings.IndexByte(raw, '{'); i >= 0; {
		if r, ok := decodeFirst(raw[i:]); ok {
			return r, nil
		}
		next := strings.IndexByte(raw[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return Reply{}, ErrOracleParseFailure
}

func decodeReply(s string) (Reply, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return Reply{}, false
	}
	return decodeFirst(s)
}

// decodeFirst decodes the object at the start of s and ignores the rest.
func decodeFirst(s string) (Reply, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var wire struct {
		Message *string        `json:"message"`
		Action  any            `json:"action"`
		Data    map[string]any `json:"data"`
	}
	if err := dec.Decode(&wire); err != nil {
		return Reply{}, false
	}

	r := Reply{Data: Data{}}
	if wire.Message != nil {
		r.Message = *wire.Message
	}
	if a, ok := wire.Action.(string); ok {
		r.Action = Action(strings.TrimSpace(a))
	}
	for k, v := range wire.Data {
		r.Data[k] = v
	}
	return r, true
}
