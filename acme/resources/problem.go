package resources

import "fmt"

// Problem is a struct representing a problem document from the server.
// See https://tools.ietf.org/html/rfc7807 and RFC 8555 §6.7.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Error makes a Problem usable as a Go error so protocol errors can be
// wrapped and classified by the retry layers.
func (p *Problem) Error() string {
	return fmt.Sprintf("acme problem %q (status %d): %s", p.Type, p.Status, p.Detail)
}
