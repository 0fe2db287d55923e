package h2engine

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/net/http2"

	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/rerr"
)

// clientPreface is RFC 9113 §3.4's fixed 24-byte connection preface a
// client must send before its first SETTINGS frame. The sniffer
// already recognized it without consuming it, so Serve reads and
// discards it itself.
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// defaultWindow is the RFC 9113 §6.5.2 default initial flow-control
// window, used for both directions until a SETTINGS frame says
// otherwise.
const defaultWindow = 65535

// Handler processes one fully-received request to completion — script
// dispatch plus the upstream call — and returns
// the response to write back. h2engine itself owns only framing and
// HPACK; it knows nothing about scripts, upstream dialing, or Flow
// lifecycle beyond the single request/response it hands off.
type Handler func(ctx context.Context, req *flow.Request) (*flow.Response, error)

// Serve reads the connection preface, exchanges SETTINGS, and runs the
// frame loop on conn until ctx is cancelled or the peer closes the
// connection, dispatching each stream's completed request to handler
// as soon as its body finishes arriving. Streams complete
// independently and may finish out of order.
//
// Serve works at the http2.Framer level rather than wrapping
// golang.org/x/net/http2.Server, so the engine does its own per-stream
// window accounting instead of delegating it to an opaque net/http
// server loop.
func Serve(ctx context.Context, conn net.Conn, handler Handler) error {
	preface := make([]byte, len(clientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		return rerr.Wrap(rerr.KindMalformedRequest, err, "reading h2 connection preface")
	}
	if string(preface) != clientPreface {
		return rerr.New(rerr.KindMalformedRequest, "h2 connection preface mismatch")
	}

	fr := http2.NewFramer(conn, conn)
	fr.SetMaxReadFrameSize(16384)

	c := &connState{
		ctx:        ctx,
		fr:         fr,
		conn:       conn,
		handler:    handler,
		streams:    make(map[uint32]*streamState),
		peerWindow: defaultWindow,
	}

	if err := fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: defaultWindow}); err != nil {
		return rerr.Wrap(rerr.KindMalformedRequest, err, "writing initial h2 settings")
	}

	return c.loop(ctx)
}

// streamState accumulates one stream's inbound HEADERS/CONTINUATION
// and DATA frames until a full flow.Request is assembled.
type streamState struct {
	headerBlock []byte
	gotRequest  bool
	trailerMode bool
	req         *flow.Request
	body        []byte
	sendWindow  int32 // bytes this side may still send for the response, per peer's advertised window
	sendCond    *sync.Cond
}

// connState owns the single connection's Framer and per-stream table.
// All writes to fr are serialized by writeMu since concurrent stream
// handlers (one per in-flight request) may finish and want
// to write responses at the same time.
type connState struct {
	ctx     context.Context
	fr      *http2.Framer
	conn    net.Conn
	handler Handler

	mu      sync.Mutex
	streams map[uint32]*streamState

	writeMu sync.Mutex

	peerWindow int32 // this connection's per-stream send window, from the peer's SETTINGS
}

func (c *connState) loop(ctx context.Context) error {
	codec := NewCodec()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			return rerr.Wrap(rerr.KindCancelled, err, "h2 connection closed")
		}

		switch f := frame.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				continue
			}
			f.ForeachSetting(func(s http2.Setting) error {
				if s.ID == http2.SettingInitialWindowSize {
					c.mu.Lock()
					c.peerWindow = int32(s.Val)
					c.mu.Unlock()
				}
				return nil
			})
			c.writeMu.Lock()
			err := c.fr.WriteSettingsAck()
			c.writeMu.Unlock()
			if err != nil {
				return err
			}

		case *http2.WindowUpdateFrame:
			c.applyWindowUpdate(f.StreamID, int32(f.Increment))

		case *http2.HeadersFrame:
			if err := c.onHeaders(f, codec); err != nil {
				return err
			}

		case *http2.ContinuationFrame:
			if err := c.onContinuation(f, codec); err != nil {
				return err
			}

		case *http2.DataFrame:
			if err := c.onData(f); err != nil {
				return err
			}

		case *http2.RSTStreamFrame:
			c.mu.Lock()
			delete(c.streams, f.StreamID)
			c.mu.Unlock()

		case *http2.PingFrame:
			if !f.IsAck() {
				c.writeMu.Lock()
				err := c.fr.WritePing(true, f.Data)
				c.writeMu.Unlock()
				if err != nil {
					return err
				}
			}

		case *http2.GoAwayFrame:
			return rerr.Cancelled("peer sent GOAWAY")

		case *http2.PriorityFrame:
			// Priority hints are accepted but not acted on; roxy does
			// not reprioritize forwarded streams.
		}
	}
}

func (c *connState) streamFor(id uint32) *streamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[id]
	if !ok {
		st = &streamState{sendWindow: c.peerWindow}
		st.sendCond = sync.NewCond(&sync.Mutex{})
		c.streams[id] = st
	}
	return st
}

func (c *connState) onHeaders(f *http2.HeadersFrame, codec *Codec) error {
	st := c.streamFor(f.StreamID)
	st.trailerMode = st.gotRequest
	st.headerBlock = append(st.headerBlock[:0], f.HeaderBlockFragment()...)

	if f.HeadersEnded() {
		return c.finishHeaders(f.StreamID, st, codec, f.StreamEnded())
	}
	return nil
}

func (c *connState) onContinuation(f *http2.ContinuationFrame, codec *Codec) error {
	st := c.streamFor(f.StreamID)
	st.headerBlock = append(st.headerBlock, f.HeaderBlockFragment()...)
	if f.HeadersEnded() {
		return c.finishHeaders(f.StreamID, st, codec, false)
	}
	return nil
}

func (c *connState) finishHeaders(id uint32, st *streamState, codec *Codec, endStream bool) error {
	if st.trailerMode {
		trailers, err := codec.DecodeTrailers(st.headerBlock)
		if err != nil {
			return err
		}
		st.req.Trailers = trailers
		if endStream {
			c.dispatch(id, st)
		}
		return nil
	}

	req, err := codec.DecodeRequest(st.headerBlock)
	if err != nil {
		return err
	}
	st.req = req
	st.gotRequest = true
	if endStream {
		c.dispatch(id, st)
	}
	return nil
}

func (c *connState) onData(f *http2.DataFrame) error {
	st := c.streamFor(f.StreamID)
	data := f.Data()
	st.body = append(st.body, data...)

	// Replenish both the stream and connection windows as soon as a
	// frame is consumed. Consumed bytes are acknowledged immediately
	// rather than withholding WINDOW_UPDATE until the whole body
	// arrives, so the peer is never forced to stall for longer than a
	// single frame's worth of unacknowledged data. The bytes themselves
	// still accumulate in st.body until END_STREAM: the whole request
	// body is buffered and dispatched at once, not yielded in
	// window-sized pieces.
	if len(data) > 0 {
		c.writeMu.Lock()
		_ = c.fr.WriteWindowUpdate(f.StreamID, uint32(len(data)))
		_ = c.fr.WriteWindowUpdate(0, uint32(len(data)))
		c.writeMu.Unlock()
	}

	if f.StreamEnded() {
		c.dispatch(f.StreamID, st)
	}
	return nil
}

func (c *connState) applyWindowUpdate(streamID uint32, incr int32) {
	if streamID == 0 {
		return // connection-level send window; roxy's response bodies are pre-materialized and small enough in practice that this engine does not track it separately
	}
	c.mu.Lock()
	st, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.sendCond.L.Lock()
	st.sendWindow += incr
	st.sendCond.Broadcast()
	st.sendCond.L.Unlock()
}

// dispatch hands the now-complete request off to handler on its own
// goroutine so slow extensions or upstream calls on one stream never
// block the connection's frame-reading loop or sibling streams;
// responses may complete out of order.
func (c *connState) dispatch(id uint32, st *streamState) {
	st.req.Body.SetBytes(st.body)

	go func() {
		resp, err := c.handler(c.ctx, st.req)
		if err != nil {
			resp = errorResponse(err)
		}
		c.writeResponse(id, st, resp)

		// The stream stays in the table until the response is fully
		// written so WINDOW_UPDATEs arriving mid-write still reach
		// st.sendCond. Client stream ids are never reused.
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
	}()
}

func (c *connState) writeResponse(id uint32, st *streamState, resp *flow.Response) {
	codec := NewCodec()
	block, err := codec.EncodeResponse(resp)
	if err != nil {
		return
	}

	body := resp.Body.Bytes()
	hasTrailers := resp.Trailers != nil && resp.Trailers.Len() > 0

	c.writeMu.Lock()
	_ = c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     len(body) == 0 && !hasTrailers,
	})
	c.writeMu.Unlock()

	c.writeDataWindowed(id, st, body, !hasTrailers)

	if hasTrailers {
		tBlock, err := codec.EncodeTrailers(resp.Trailers)
		if err == nil {
			c.writeMu.Lock()
			_ = c.fr.WriteHeaders(http2.HeadersFrameParam{
				StreamID:      id,
				BlockFragment: tBlock,
				EndHeaders:    true,
				EndStream:     true,
			})
			c.writeMu.Unlock()
		}
	}
}

// writeDataWindowed writes body in chunks no larger than the stream's
// currently advertised send window, blocking on st.sendCond for a
// WINDOW_UPDATE when the window is exhausted, so flow control also
// holds in roxy's own outbound direction.
func (c *connState) writeDataWindowed(id uint32, st *streamState, body []byte, endStream bool) {
	if len(body) == 0 {
		return
	}
	for len(body) > 0 {
		st.sendCond.L.Lock()
		for st.sendWindow <= 0 {
			st.sendCond.Wait()
		}
		n := len(body)
		if int32(n) > st.sendWindow {
			n = int(st.sendWindow)
		}
		st.sendWindow -= int32(n)
		st.sendCond.L.Unlock()

		chunk := body[:n]
		body = body[n:]

		c.writeMu.Lock()
		_ = c.fr.WriteData(id, endStream && len(body) == 0, chunk)
		c.writeMu.Unlock()
	}
}

// errorResponse maps a dispatch-time error to its synthesized
// downstream status.
func errorResponse(err error) *flow.Response {
	status := uint16(502)
	if re, ok := err.(*rerr.Error); ok {
		status = uint16(re.SynthesizedStatus())
	}
	resp := flow.NewResponse(status, flow.Version2)
	resp.Body.SetText(err.Error())
	return resp
}
