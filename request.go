package authclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is an outbound call relative to Config.BaseURL. Path may also be
// an absolute URL, which is used as-is.
//
// The pipeline works on a private copy, so a Request can be reused.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	retryCount     int
	isRefreshRetry bool
}

// NewRequest builds a request whose body is body encoded as JSON. A nil body
// sends no payload.
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path, Header: make(http.Header)}
	if body == nil {
		return req, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidRequest, err)
	}
	req.Body = raw
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// NewRawRequest builds a request with a pre-encoded body.
func NewRawRequest(method, path, contentType string, body []byte) *Request {
	req := &Request{Method: method, Path: path, Header: make(http.Header), Body: body}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func (r *Request) clone() *Request {
	out := &Request{
		Method:         strings.ToUpper(strings.TrimSpace(r.Method)),
		Path:           r.Path,
		Header:         r.Header.Clone(),
		Body:           r.Body,
		retryCount:     r.retryCount,
		isRefreshRetry: r.isRefreshRetry,
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Query != nil {
		out.Query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			out.Query[k] = append([]string(nil), v...)
		}
	}
	return out
}

func (r *Request) bodyReader() io.Reader {
	if len(r.Body) == 0 {
		return nil
	}
	return bytes.NewReader(r.Body)
}

// Response is a fully read HTTP response. Do only returns 2xx responses.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// resolveURL joins path onto base. Absolute http(s) URLs pass through.
func resolveURL(base, path string, query url.Values) (string, error) {
	var target *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u, err := url.Parse(path)
		if err != nil {
			return "", err
		}
		target = u
	} else {
		b, err := url.Parse(base)
		if err != nil {
			return "", err
		}
		if b.Scheme == "" || b.Host == "" {
			return "", fmt.Errorf("base url %q is not absolute", base)
		}
		rel, err := url.Parse(path)
		if err != nil {
			return "", err
		}
		target = &url.URL{
			Scheme:   b.Scheme,
			User:     b.User,
			Host:     b.Host,
			Path:     joinPath(b.Path, rel.Path),
			RawQuery: rel.RawQuery,
		}
	}

	if len(query) > 0 {
		q := target.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target.String(), nil
}

func joinPath(base, p string) string {
	base = strings.TrimRight(base, "/")
	if p == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}
