package h3engine

import (
	"bufio"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

// HTTP/3 frame types (RFC 9114 §7.2).
const (
	frameTypeData    = 0x0
	frameTypeHeaders = 0x1
)

// ReadRequest reads one HEADERS frame (optionally followed by DATA
// frames until the stream half-closes) from r and builds a flow.Request.
func ReadRequest(r *bufio.Reader, codec *HeaderCodec) (*flow.Request, error) {
	typ, payload, err := readFrame(r)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading h3 request frame")
	}
	if typ != frameTypeHeaders {
		return nil, rerr.New(rerr.KindMalformedRequest, "expected HEADERS frame, got type %#x", typ)
	}

	req, err := codec.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}

	var body []byte
	for {
		typ, payload, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, rerr.Wrap(rerr.KindMalformedRequest, err, "reading h3 body frame")
		}
		if typ == frameTypeData {
			body = append(body, payload...)
		}
	}
	req.Body.SetBytes(body)
	return req, nil
}

// WriteResponse writes resp as a HEADERS frame followed by a DATA
// frame (if the body is non-empty) to w.
func WriteResponse(w io.Writer, codec *HeaderCodec, resp *flow.Response) error {
	block, err := codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if err := writeFrame(w, frameTypeHeaders, block); err != nil {
		return rerr.Wrap(rerr.KindMalformedResponse, err, "writing h3 HEADERS frame")
	}
	if body := resp.Body.Bytes(); len(body) > 0 {
		if err := writeFrame(w, frameTypeData, body); err != nil {
			return rerr.Wrap(rerr.KindMalformedResponse, err, "writing h3 DATA frame")
		}
	}
	return nil
}

func readFrame(r *bufio.Reader) (frameType uint64, payload []byte, err error) {
	vr := quicvarint.NewReader(r)
	frameType, err = quicvarint.Read(vr)
	if err != nil {
		return 0, nil, err
	}
	length, err := quicvarint.Read(vr)
	if err != nil {
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}

func writeFrame(w io.Writer, frameType uint64, payload []byte) error {
	header := quicvarint.Append(nil, frameType)
	header = quicvarint.Append(header, uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
