package provider

import (
	"context"

	"github.com/nguyenthanhtuan/agentrun/streamnorm"
	"github.com/nguyenthanhtuan/agentrun/transport"
)

// PumpSSE pulls frames from an SSE stream, routes each through norm, and
// forwards the canonical events to out. Exactly one terminal event reaches
// out: the first frame or decode error ends the stream, and a finish is
// synthesized when the provider closes the stream without emitting one.
// Shared by every adapter that streams through transport.Client.
func PumpSSE(ctx context.Context, stream *transport.EventStream, norm streamnorm.Normalizer, out chan<- streamnorm.Event) {
	sawFinish := false
	for {
		payload, ok, err := stream.Next()
		if err != nil {
			if !sawFinish {
				out <- streamnorm.Event{Kind: streamnorm.EventError, Err: err}
			}
			return
		}
		if !ok {
			for _, ev := range norm.CompleteResponse() {
				out <- ev
			}
			if !sawFinish {
				out <- streamnorm.Event{Kind: streamnorm.EventFinish, FinishReason: "stop"}
			}
			return
		}

		var events []streamnorm.Event
		if norm.IsCompleteResponse([]byte(payload)) {
			events, err = norm.ConvertCompleteResponse([]byte(payload))
		} else {
			events, err = norm.NormalizeChunk([]byte(payload))
		}
		if err != nil {
			if !sawFinish {
				out <- streamnorm.Event{Kind: streamnorm.EventError, Err: err}
			}
			return
		}
		for _, ev := range events {
			select {
			case out <- ev:
				if ev.Kind == streamnorm.EventFinish {
					sawFinish = true
				}
			case <-ctx.Done():
				if !sawFinish {
					out <- streamnorm.Event{Kind: streamnorm.EventError, Err: ctx.Err()}
				}
				return
			}
		}
	}
}
