package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRunServe(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, newFakeOverlay(nil))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, a, ln, true, &out)
	}()

	readyURL := "http://" + ln.Addr().String() + "/api/tor/ready"
	deadline := time.Now().Add(5 * time.Second)
	for {
		ready, err := fetchReady(readyURL)
		if err == nil && ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never became ready through the API (last error: %v)", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe() did not return after cancellation")
	}

	for _, want := range []string{"listening on http://" + ln.Addr().String(), a.downloader.Dir()} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got %q", want, out.String())
		}
	}
}

func fetchReady(url string) (bool, error) {
	resp, err := http.Get(url) //nolint:gosec,noctx // test server address
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var body struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Ready, nil
}
