package httpclient

import (
	"net/url"
	"strings"
)

// Parameter is one key/value pair of a query string or form payload.
type Parameter struct {
	Key   string
	Value string
}

// Params builds parameters from alternating key/value pairs.
func Params(kv ...string) []Parameter {
	out := make([]Parameter, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Parameter{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

// encodeParameters encodes params in order, unlike url.Values.Encode which
// sorts by key.
func encodeParameters(params []Parameter) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// appendQuery adds params after any query already in u.
func appendQuery(u *url.URL, params []Parameter) {
	if len(params) == 0 {
		return
	}
	extra := encodeParameters(params)
	if u.RawQuery == "" {
		u.RawQuery = extra
		return
	}
	u.RawQuery += "&" + extra
}
