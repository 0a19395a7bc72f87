// Package main provides a WebSocket smoke test for a running scoresws relay.
//
// It validates:
//   - an invalid handshake is answered with an error frame and a policy close
//   - connect streams score objects in ascending id order
//   - disconnect flushes queued scores and replies with the resume id
//   - resuming from that id only yields newer scores
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"scoresws/cmd/scores"
	v1 "scoresws/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 32 << 20

type frame struct {
	data []byte
	err  error
}

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan frame
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:7277/", "WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		count   = flag.Int("n", 1, "Scores to read before disconnecting")
		timeout = flag.Duration("timeout", 3*time.Minute, "Per-step timeout (at least one poll interval)")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *count <= 0 {
		fatalf("invalid -n: %d", *count)
	}

	root := context.Background()

	mustRejectBadHandshake(root, *wsURL, *origin, *timeout)

	a := mustConnect(root, "A", *wsURL, *origin, v1.Connect, *timeout)
	defer closeWS(a.conn)

	var last uint64
	for i := 0; i < *count; i++ {
		id := a.mustReadScore(root, *timeout)
		if i > 0 && id <= last {
			fatalf("ids not ascending (A): %d after %d", id, last)
		}
		last = id
		if *verbose {
			fmt.Printf("A: score %d\n", id)
		}
	}

	resume := a.mustDisconnect(root, last, *timeout)
	if *verbose {
		fmt.Printf("A: resume id %d\n", resume)
	}

	b := mustConnect(root, "B", *wsURL, *origin, v1.FormatResumeID(resume), *timeout)
	defer closeWS(b.conn)

	id := b.mustReadScore(root, *timeout)
	if id <= resume {
		fatalf("resumed stream replayed %d <= %d", id, resume)
	}
	if *verbose {
		fmt.Printf("B: score %d\n", id)
	}
	_ = b.mustDisconnect(root, id, *timeout)

	fmt.Println("ok")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func dial(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRejectBadHandshake(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	conn := dial(parent, "reject", wsURL, origin, stepTimeout)
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		fatalf("write bad handshake: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read handshake error: %v", err)
	}
	if string(data) != v1.ErrHandshakeInvalid {
		fatalf("handshake error mismatch: got=%q want=%q", data, v1.ErrHandshakeInvalid)
	}
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		fatalf("handshake close status: got=%v want=%v (err=%v)", got, websocket.StatusPolicyViolation, err)
	}
}

func mustConnect(parent context.Context, name, wsURL, origin, hello string, stepTimeout time.Duration) *smokeClient {
	conn := dial(parent, name, wsURL, origin, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(hello)); err != nil {
		fatalf("write handshake (%s): %v", name, err)
	}

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 1024),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			c.inbox <- frame{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()
}

func (c *smokeClient) next(parent context.Context, what string, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s (%s): %v", what, c.name, ctx.Err())
	case f, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s (%s)", what, c.name)
		}
		if f.err != nil {
			fatalf("connection error while waiting for %s (%s): %v", what, c.name, f.err)
		}
		return f.data
	}
	return nil
}

func (c *smokeClient) mustReadScore(parent context.Context, stepTimeout time.Duration) uint64 {
	data := c.next(parent, "score", stepTimeout)
	id, ok := scoreID(data)
	if !ok {
		fatalf("frame is not a score object (%s): %.120q", c.name, data)
	}
	return id
}

// mustDisconnect sends disconnect and returns the resume id. Scores still
// queued for the client may arrive first; they must be newer than last.
func (c *smokeClient) mustDisconnect(parent context.Context, last uint64, stepTimeout time.Duration) uint64 {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(v1.Disconnect)); err != nil {
		fatalf("write disconnect (%s): %v", c.name, err)
	}

	for {
		data := c.next(parent, "resume id", stepTimeout)
		if id, ok := scoreID(data); ok {
			if id <= last {
				fatalf("ids not ascending while flushing (%s): %d after %d", c.name, id, last)
			}
			last = id
			continue
		}

		resume, ok := v1.ParseResumeID(data)
		if !ok {
			fatalf("bad resume id (%s): %q", c.name, data)
		}
		if resume < last {
			fatalf("resume id %d older than delivered %d (%s)", resume, last, c.name)
		}
		return resume
	}
}

func scoreID(data []byte) (uint64, bool) {
	it := scores.NewIterator(append(append([]byte{'['}, data...), ']'))
	obj, ok := it.Next()
	if !ok || !obj.HasID {
		return 0, false
	}
	return obj.ID, true
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
