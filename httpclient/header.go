package httpclient

import (
	"net/textproto"
	"strings"

	"github.com/kbukum/fetchkit/transport"
)

// HeaderField is one header name/value pair.
type HeaderField = transport.HeaderField

// Header is an ordered header multimap with case-insensitive names.
//
// Set replaces every value for a name and keeps the position of its first
// occurrence. Add appends a value, so multi-valued headers keep all values in
// insertion order.
type Header []HeaderField

// NewHeader builds a Header from alternating name/value pairs using Add.
func NewHeader(kv ...string) Header {
	h := make(Header, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// Set replaces all values of name with value.
func (h *Header) Set(name, value string) {
	out := (*h)[:0]
	replaced := false
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
			continue
		}
		if !replaced {
			out = append(out, HeaderField{Name: f.Name, Value: value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, HeaderField{Name: name, Value: value})
	}
	*h = out
}

// Add appends a value for name.
func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Del removes every value of name.
func (h *Header) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Get returns the first value of name, or "".
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value of name in insertion order.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Names returns the distinct names in order of first appearance, in
// canonical form.
func (h Header) Names() []string {
	seen := make(map[string]bool, len(h))
	var out []string
	for _, f := range h {
		canon := textproto.CanonicalMIMEHeaderKey(f.Name)
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	return out
}

// Clone returns a copy that shares nothing with h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return append(Header(nil), h...)
}

// Map flattens the header into a map keyed by canonical name. Values of
// multi-valued headers are joined with ", ".
func (h Header) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, name := range h.Names() {
		m[name] = strings.Join(h.Values(name), ", ")
	}
	return m
}
