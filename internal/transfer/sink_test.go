package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestProgressEvent_JSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		event    ProgressEvent
		expected string
	}{
		{"progress", ProgressEvent{Kind: EventProgress, ChunkLength: 10}, `{"event":"progress","data":{"chunkLength":10}}`},
		{"zero-length progress", ProgressEvent{Kind: EventProgress}, `{"event":"progress","data":{"chunkLength":0}}`},
		{"finished", ProgressEvent{Kind: EventFinished}, `{"event":"finished","data":{}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(b) != tc.expected {
				t.Errorf("Marshal() = %s, expected %s", b, tc.expected)
			}

			var decoded ProgressEvent
			if err := json.Unmarshal(b, &decoded); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if decoded != tc.event {
				t.Errorf("Unmarshal() = %+v, expected %+v", decoded, tc.event)
			}
		})
	}

	var e ProgressEvent
	if err := json.Unmarshal([]byte(`{"event":"paused","data":{}}`), &e); err == nil {
		t.Error("expected error for unknown event")
	}
	if err := json.Unmarshal([]byte(`{"event":"progress","data":{}}`), &e); err == nil {
		t.Error("expected error for progress without chunkLength")
	}
}

func TestProgressFunc(t *testing.T) {
	t.Parallel()

	var got []ProgressEvent
	sink := ProgressFunc(func(e ProgressEvent) { got = append(got, e) })
	sink.OnChunk(7)
	sink.OnFinished()

	if len(got) != 2 || got[0] != (ProgressEvent{Kind: EventProgress, ChunkLength: 7}) || got[1].Kind != EventFinished {
		t.Errorf("got %+v", got)
	}
}

func TestChannelSink(t *testing.T) {
	t.Parallel()

	t.Run("delivers events in order", func(t *testing.T) {
		t.Parallel()

		ch := make(chan ProgressEvent, 2)
		sink := NewChannelSink(context.Background(), ch)
		sink.OnChunk(3)
		sink.OnFinished()
		close(ch)

		var got []ProgressEvent
		for e := range ch {
			got = append(got, e)
		}
		if len(got) != 2 || got[0].ChunkLength != 3 || got[1].Kind != EventFinished {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("cancelled context unblocks an abandoned channel", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		sink := NewChannelSink(ctx, make(chan ProgressEvent))

		done := make(chan struct{})
		go func() {
			defer close(done)
			sink.OnChunk(1)
			sink.OnFinished()
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("sink blocked after its context was cancelled")
		}
	})
}

func TestClient_Get_ChannelSinkAbandoned(t *testing.T) {
	t.Parallel()

	stream := newScriptedStream(okHead35, segment(10, 'a'))
	stream.block = true
	ctx, cancel := context.WithCancel(context.Background())
	sink := NewChannelSink(ctx, make(chan ProgressEvent))

	errCh := make(chan error, 1)
	go func() {
		_, err := NewClient().Get(ctx, "http://example.onion/file", &fakeConnector{stream: stream}, sink)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Get() error = %v, expected %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not return after cancellation with an unread channel")
	}
}
