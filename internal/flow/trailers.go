package flow

// Trailers has identical structure and semantics to Headers. Present
// only for HTTP/2 and HTTP/3; silently dropped when serializing back
// to HTTP/1, which the engines enforce by never reading Trailers when
// writing an HTTP/1 message.
type Trailers = Headers

// NewTrailers returns an empty Trailers collection.
func NewTrailers() *Trailers { return NewHeaders() }
