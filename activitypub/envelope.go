package activitypub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const publicCollection = "https://www.w3.org/ns/activitystreams#Public"

// Envelope is a parsed inbound activity. The raw document is kept so nested
// fields can be read lazily and signed payloads forwarded verbatim.
type Envelope struct {
	Raw       map[string]any
	Body      []byte
	Id        string
	Type      string
	Actor     string
	Object    any
	Target    any
	To        []string
	Cc        []string
	Published time.Time
	Signed    bool // Carries an embedded LD signature
}

// ParseEnvelope decodes an activity document
func ParseEnvelope(body []byte) (*Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	env := NewEnvelope(raw)
	env.Body = body
	if env.Type == "" {
		return nil, fmt.Errorf("activity has no type")
	}
	return env, nil
}

// NewEnvelope wraps an already decoded document, such as the object of an Undo
func NewEnvelope(raw map[string]any) *Envelope {
	env := &Envelope{
		Raw:    raw,
		Id:     stringField(raw, "id"),
		Type:   firstType(raw["type"]),
		Actor:  uriOf(raw["actor"]),
		Object: raw["object"],
		Target: raw["target"],
		To:     asStrings(raw["to"]),
		Cc:     asStrings(raw["cc"]),
	}
	env.Published = parseTime(stringField(raw, "published"))
	_, env.Signed = raw["signature"].(map[string]any)
	return env
}

// ObjectURI returns the id of the object, whether embedded or referenced
func (e *Envelope) ObjectURI() string {
	return uriOf(e.Object)
}

// ObjectMap returns the embedded object, or nil when it is only referenced
func (e *Envelope) ObjectMap() map[string]any {
	m, _ := e.Object.(map[string]any)
	return m
}

// ObjectType returns the type of the embedded object
func (e *Envelope) ObjectType() string {
	if m := e.ObjectMap(); m != nil {
		return firstType(m["type"])
	}
	return ""
}

// ObjectURIs flattens a single or array object into ids
func (e *Envelope) ObjectURIs() []string {
	return asStrings(e.Object)
}

// TargetURI returns the id of the target
func (e *Envelope) TargetURI() string {
	return uriOf(e.Target)
}

// Audience returns to and cc combined
func (e *Envelope) Audience() []string {
	return append(append([]string{}, e.To...), e.Cc...)
}

// stringField reads a string from a document
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// uriOf reads an id from a bare string or from an object's id or href
func uriOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if id := stringField(val, "id"); id != "" {
			return id
		}
		if href := stringField(val, "href"); href != "" {
			return href
		}
		// Image objects such as emoji icons only carry a url
		return uriOf(val["url"])
	case []any:
		if len(val) > 0 {
			return uriOf(val[0])
		}
	}
	return ""
}

// asStrings flattens a string, object or array of either into ids
func asStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := uriOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := uriOf(val); s != "" {
			return []string{s}
		}
	}
	return nil
}

// asMaps returns the embedded objects of a single object or array
func asMaps(v any) []map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return []map[string]any{val}
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// firstType returns the type, or the first entry of a multi-typed object
func firstType(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				return s
			}
		}
	}
	return ""
}

// hasType reports whether an object declares any of the given types
func hasType(m map[string]any, types ...string) bool {
	declared := m["type"]
	var list []any
	switch val := declared.(type) {
	case string:
		list = []any{val}
	case []any:
		list = val
	}
	for _, item := range list {
		s, _ := item.(string)
		for _, t := range types {
			if s == t {
				return true
			}
		}
	}
	return false
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func isPublic(uri string) bool {
	return uri == publicCollection || uri == "as:Public" || uri == "Public"
}

// contentOf reads content, falling back to the first contentMap entry.
// Returns the text and its language when it came from contentMap.
func contentOf(m map[string]any) (string, string) {
	if s := stringField(m, "content"); s != "" {
		lang := ""
		if cm, ok := m["contentMap"].(map[string]any); ok {
			for k, v := range cm {
				if v == s {
					lang = k
					break
				}
			}
		}
		return s, lang
	}
	if cm, ok := m["contentMap"].(map[string]any); ok {
		for k, v := range cm {
			if s, ok := v.(string); ok && s != "" {
				return s, strings.ToLower(k)
			}
		}
	}
	return "", ""
}
