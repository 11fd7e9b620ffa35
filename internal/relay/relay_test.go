package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "eventsched/pkg/logx"
)

func TestForwardWritesInChunks(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewWriter(&buf, 1<<20, 4)
	payload := []byte("0123456789")
	if err := r.Forward(context.Background(), payload); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("wrote %q", buf.Bytes())
	}
	if r.Sent() != 10 {
		t.Fatalf("Sent = %d", r.Sent())
	}
}

func TestForwardHonorsContext(t *testing.T) {
	t.Parallel()
	r := NewWriter(io.Discard, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Forward(ctx, []byte("abcdef")); err == nil {
		t.Fatal("expected rate wait to fail once the context expires")
	}
}

func TestFileDriverAppends(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dev")
	r, err := Open(Config{Driver: "file", Target: path, BytesPerSec: 1 << 20, Burst: 64}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, s := range []string{"ab", "cd"} {
		if err := r.Forward(context.Background(), []byte(s)); err != nil {
			t.Fatalf("Forward: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "abcd" {
		t.Fatalf("file = %q", got)
	}
	if err := r.Forward(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Forward after Close = %v", err)
	}
}

func TestTCPDriverConnectsLazily(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		got <- b
	}()

	r, err := Open(Config{Driver: "tcp", Target: ln.Addr().String(), BytesPerSec: 1 << 20}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Forward(context.Background(), []byte{0x02, 0x10, 0x03}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	_ = r.Close()
	select {
	case b := <-got:
		if !bytes.Equal(b, []byte{0x02, 0x10, 0x03}) {
			t.Fatalf("received %x", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "serial"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v", err)
	}
}

func TestParsePayload(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []byte
	}{
		{in: "hex:02 1b 03", want: []byte{0x02, 0x1b, 0x03}},
		{in: `ping\r\n`, want: []byte("ping\r\n")},
		{in: `say "hi"\x00`, want: []byte("say \"hi\"\x00")},
		{in: "plain", want: []byte("plain")},
	}
	for _, tt := range tests {
		got, err := ParsePayload(tt.in)
		if err != nil {
			t.Fatalf("ParsePayload(%q): %v", tt.in, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Fatalf("ParsePayload(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := ParsePayload("hex:zz"); err == nil {
		t.Fatal("expected hex error")
	}
}
