package http11

import (
	"io"
	"net/url"
)

// Request is a parsed request head plus its body reader.
//
// Requests handed to a Handler come from a pool and are only valid until the
// handler returns. Use Clone to keep one longer.
type Request struct {
	RequestLine

	// Header is frozen; handlers cannot modify it.
	Header *Header

	// Body yields the decoded body and io.EOF at its end. It is never nil.
	Body io.Reader

	// ContentLength is -1 when the request has no Content-Length.
	ContentLength int64

	// Chunked is set for Transfer-Encoding: chunked.
	Chunked bool

	// Close is set when the connection must close after this request
	// ("Connection: close", or HTTP/1.0 without keep-alive).
	Close bool

	// RemoteAddr is the network address of the client
	RemoteAddr string

	parsedURL *url.URL
}

// ParsedURL parses the target on first use and caches the result.
func (r *Request) ParsedURL() (*url.URL, error) {
	if r.parsedURL == nil {
		u, err := url.ParseRequestURI(r.Target)
		if err != nil {
			return nil, err
		}
		r.parsedURL = u
	}
	return r.parsedURL, nil
}

// Host returns the Host header value.
func (r *Request) Host() string {
	return r.Header.Get(headerHost)
}

// ContentType returns the Content-Type header value.
func (r *Request) ContentType() string {
	return r.Header.Get(headerContentType)
}

// HasBody reports whether the request carries a body.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

// Trailer returns the chunked trailer fields once the body has been read to
// io.EOF, nil otherwise.
func (r *Request) Trailer() *Header {
	if cr, ok := r.Body.(*ChunkedReader); ok {
		return cr.Trailer()
	}
	return nil
}

// Reset clears the request for reuse.
func (r *Request) Reset() {
	*r = Request{ContentLength: -1, Body: NoBody}
}

// Clone returns a copy that stays valid after the request is returned to the
// pool. The body is not carried over.
func (r *Request) Clone() *Request {
	c := &Request{
		RequestLine:   r.RequestLine,
		Body:          NoBody,
		ContentLength: r.ContentLength,
		Chunked:       r.Chunked,
		Close:         r.Close,
		RemoteAddr:    r.RemoteAddr,
	}
	if r.Header != nil {
		c.Header = r.Header.Clone()
		c.Header.Freeze()
	}
	return c
}
