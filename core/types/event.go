package types

// Event is the rendered form of a protocol event as returned in receipts and
// handed to sinks. Amounts are base-unit decimal strings and addresses bech32.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
