package nodeconn

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"redicore/internal/respwire"
)

func TestRequestNodeRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		w := bufio.NewWriter(server)
		for i := 0; i < 2; i++ {
			if _, err := respwire.Decode(r); err != nil {
				return
			}
		}
		w.WriteString("+PONG\r\n")
		w.WriteString("$2\r\nhi\r\n")
		w.Flush()
	}()

	nc := New("node1", "fake:1", client)
	replies, err := nc.RequestNode(context.Background(), [][][]byte{
		{[]byte("PING")},
		{[]byte("GET"), []byte("x")},
	}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].Kind != respwire.KindSimpleString || replies[0].Str != "PONG" {
		t.Fatalf("reply 0 = %+v", replies[0])
	}
	if replies[1].Kind != respwire.KindBulk || string(replies[1].Bulk) != "hi" {
		t.Fatalf("reply 1 = %+v", replies[1])
	}
}

func TestCleanRequestReducesMultiExec(t *testing.T) {
	multi := [][]byte{[]byte("MULTI"), []byte("pinkey")}
	cleaned := cleanRequest(multi)
	if len(cleaned) != 1 || string(cleaned[0]) != "MULTI" {
		t.Fatalf("MULTI not cleaned: %v", cleaned)
	}
	twice := cleanRequest(cleaned)
	if len(twice) != 1 || string(twice[0]) != "MULTI" {
		t.Fatalf("cleanRequest is not idempotent: %v", twice)
	}

	exec := [][]byte{[]byte("EXEC"), []byte("pinkey")}
	cleanedExec := cleanRequest(exec)
	if len(cleanedExec) != 1 || string(cleanedExec[0]) != "EXEC" {
		t.Fatalf("EXEC not cleaned: %v", cleanedExec)
	}

	get := [][]byte{[]byte("GET"), []byte("x")}
	if cleaned := cleanRequest(get); len(cleaned) != 2 {
		t.Fatalf("non-MULTI/EXEC request altered: %v", cleaned)
	}
}

func TestRequestNodeDeadlineExceeded(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	nc := New("node1", "fake:1", client)
	_, err := nc.RequestNode(context.Background(), [][][]byte{{[]byte("PING")}}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected deadline error")
	}
}
