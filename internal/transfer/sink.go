package transfer

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProgressSink observes a transfer. OnChunk is called once per received
// chunk, in wire order, and the read loop waits for it to return. OnFinished
// is called once after the body has been fully read.
type ProgressSink interface {
	OnChunk(length int)
	OnFinished()
}

// EventKind distinguishes progress events.
type EventKind string

const (
	// EventProgress reports one received chunk.
	EventProgress EventKind = "progress"
	// EventFinished reports that the body was fully received.
	EventFinished EventKind = "finished"
)

// ProgressEvent is the serializable form of a sink call.
type ProgressEvent struct {
	Kind        EventKind
	ChunkLength int
}

type progressEventJSON struct {
	Event EventKind         `json:"event"`
	Data  progressEventData `json:"data"`
}

type progressEventData struct {
	ChunkLength *int `json:"chunkLength,omitempty"`
}

// MarshalJSON encodes the event as {"event":...,"data":{...}}.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	out := progressEventJSON{Event: e.Kind}
	if e.Kind == EventProgress {
		n := e.ChunkLength
		out.Data.ChunkLength = &n
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (e *ProgressEvent) UnmarshalJSON(b []byte) error {
	var in progressEventJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Event {
	case EventProgress:
		if in.Data.ChunkLength == nil {
			return fmt.Errorf("progress event without chunkLength")
		}
		*e = ProgressEvent{Kind: EventProgress, ChunkLength: *in.Data.ChunkLength}
	case EventFinished:
		*e = ProgressEvent{Kind: EventFinished}
	default:
		return fmt.Errorf("unknown progress event %q", in.Event)
	}
	return nil
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

// OnChunk implements ProgressSink.
func (f ProgressFunc) OnChunk(length int) {
	f(ProgressEvent{Kind: EventProgress, ChunkLength: length})
}

// OnFinished implements ProgressSink.
func (f ProgressFunc) OnFinished() {
	f(ProgressEvent{Kind: EventFinished})
}

// ChannelSink sends every event to a channel. Sends block, so a slow reader
// throttles the transfer, until its context is done. Events after that are
// dropped, which lets a transfer cancelled by the same context unwind even
// when nobody reads the channel any more.
type ChannelSink struct {
	ctx context.Context
	ch  chan<- ProgressEvent
}

// NewChannelSink returns a ChannelSink sending to ch while ctx is live.
func NewChannelSink(ctx context.Context, ch chan<- ProgressEvent) ChannelSink {
	return ChannelSink{ctx: ctx, ch: ch}
}

// OnChunk implements ProgressSink.
func (c ChannelSink) OnChunk(length int) {
	c.send(ProgressEvent{Kind: EventProgress, ChunkLength: length})
}

// OnFinished implements ProgressSink.
func (c ChannelSink) OnFinished() {
	c.send(ProgressEvent{Kind: EventFinished})
}

func (c ChannelSink) send(e ProgressEvent) {
	select {
	case c.ch <- e:
	case <-c.ctx.Done():
	}
}
