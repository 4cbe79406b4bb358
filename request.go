package authclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// emptyBody is returned in place of an empty 2xx body.
var emptyBody = json.RawMessage(`{"data":[],"count":0}`)

// Request describes one logical API call.
type Request struct {
	Method string
	// Path is relative to Config.BaseURL and may carry a query string.
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded unless it is already a json.RawMessage or []byte.
	Body any
}

// Response is a successful API response.
type Response struct {
	Status    int
	Header    http.Header
	Body      json.RawMessage
	NoContent bool
	RequestID string
}

// Decode unmarshals the body into v. A 204 response leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || r.NoContent || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// call is a Request prepared once and sent one or more times.
type call struct {
	method    string
	path      string
	url       string
	header    http.Header
	body      []byte
	requestID string
	auth      bool
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
		}
		return out, nil
	}
}

func joinURL(base, path string, query url.Values) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidRequest)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// pathOnly strips the query string and fragment from p.
func pathOnly(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func newRequestID() string {
	return uuid.NewString()
}
