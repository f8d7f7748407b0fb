package rpc

import (
	"net"
	"sync"
	"testing"
	"time"
)

func TestClientServerRoundTripsRequestAndAck(t *testing.T) {
	server := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0"})

	var mu sync.Mutex
	var gotPayloads [][]byte
	server.RegisterHandler(TypeSendVertex, func(h Header, payload []byte) error {
		mu.Lock()
		gotPayloads = append(gotPayloads, payload)
		mu.Unlock()
		return nil
	})

	ln, err := listenAndServe(server)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Stop()

	client := NewClient(ClientConfig{
		LocalWorkerID: 1,
		Resolve:       func(uint32) (string, error) { return ln, nil },
	})

	payload := EncodeVertexPayload(VertexPayload{PartitionID: 0, Vertices: []VertexRecord{{ID: 1, Value: []byte("v")}}})
	if err := client.SendWritableRequest(2, TypeSendVertex, payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitOrFatal(t, client.WaitAllRequests)

	mu.Lock()
	defer mu.Unlock()
	if len(gotPayloads) != 1 {
		t.Fatalf("got %d handler invocations, want 1", len(gotPayloads))
	}
}

func TestClientServerDedupsRetriedRequestID(t *testing.T) {
	server := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0"})

	var mu sync.Mutex
	calls := 0
	server.RegisterHandler(TypeFlush, func(h Header, payload []byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ln, err := listenAndServe(server)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Stop()

	conn := dialRaw(t, ln)
	defer conn.Close()

	h := Header{Type: TypeFlush, RequestID: 1, SourceWorkerID: 9}
	if err := WriteFrame(conn, h, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadFrame(conn); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	// Re-send with the same (source, requestID): must be deduped, not
	// re-delivered to the handler, but still acked.
	if err := WriteFrame(conn, h, nil); err != nil {
		t.Fatalf("write retry: %v", err)
	}
	if _, _, err := ReadFrame(conn); err != nil {
		t.Fatalf("read second ack: %v", err)
	}

	server.Wait()
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("got %d handler calls, want 1 (duplicate request id must be deduped)", calls)
	}
}

func listenAndServe(s *Server) (string, error) {
	if err := s.Start(); err != nil {
		return "", err
	}
	return s.listener.Addr().String(), nil
}

func dialRaw(t *testing.T, addr string) net.Conn {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitOrFatal(t *testing.T, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for outstanding requests to be acked")
	}
}
