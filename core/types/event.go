package types

// Event represents a typed event emitted during a ledger unit. Attributes are
// flat strings so events can be logged, journalled and served as JSON
// without further conversion.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute stored under key or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
