package supervisor

import (
	"bufio"
	"context"

	"github.com/quic-go/quic-go"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/h3engine"
)

// streamLoopH3 accepts every QUIC stream on qconn and dispatches each
// as one request/response exchange through orch on its own goroutine,
// mirroring h2engine's one-goroutine-per-stream concurrency, so
// responses may complete out of order.
func streamLoopH3(ctx context.Context, qconn *quic.Conn, orch *orchestrator) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			qconn.CloseWithError(0, "shutting down")
		case <-done:
		}
	}()

	for {
		stream, err := qconn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go handleH3Stream(ctx, stream, orch)
	}
}

func handleH3Stream(ctx context.Context, stream *quic.Stream, orch *orchestrator) {
	defer stream.Close()

	codec := h3engine.NewHeaderCodec()
	br := bufio.NewReader(stream)
	req, err := h3engine.ReadRequest(br, codec)
	if err != nil {
		return
	}
	if req.URL.Protocol() == "" {
		req.URL.SetProtocol("https")
	}

	resp, err := orch.handle(ctx, req)
	if err != nil {
		resp = synthesizeErrorResponse(err, flow.Version3)
	}

	_ = h3engine.WriteResponse(stream, codec, resp)
}
