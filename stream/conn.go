package stream

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Keepalive defaults: ping every 20s and give the server another 20s to answer.
const (
	DefaultPingInterval = 20 * time.Second
	DefaultPongTimeout  = 20 * time.Second
)

// Conn is one established stream connection.
type Conn interface {
	// ReadMessage blocks until the next data frame arrives. Control frames are handled internally.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a Conn. Tests substitute scripted dialers.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials websocket endpoints with gobwas/ws.
type WSDialer struct {
	// Timeout bounds the TCP connect plus handshake. Zero means no limit beyond ctx.
	Timeout time.Duration
	// PingInterval is how often the client pings. Zero disables the keepalive.
	PingInterval time.Duration
	// PongTimeout is how long past PingInterval a silent server is tolerated.
	// A read that sees no frame within PingInterval+PongTimeout fails with a timeout.
	PongTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: d.Timeout,
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	var src io.Reader = conn
	if br != nil {
		// The server may have sent frames right behind the handshake response.
		src = io.MultiReader(br, conn)
	}
	c := &wsConn{
		conn: conn,
		rd:   wsutil.Reader{Source: src, State: ws.StateClientSide, CheckUTF8: true},
		done: make(chan struct{}),
	}
	// Pings may arrive between the fragments of a data message.
	c.rd.OnIntermediate = c.handleControl
	if d.PingInterval > 0 {
		c.idle = d.PingInterval + d.PongTimeout
		go c.keepalive(d.PingInterval)
	}
	return c, nil
}

type wsConn struct {
	conn net.Conn
	rd   wsutil.Reader
	// idle is the read deadline window; zero means reads never time out.
	idle time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		// Every frame, pongs included, proves the peer is alive.
		if c.idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
				return nil, err
			}
		}
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, &c.rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(&c.rd)
	}
}

// handleControl answers pings and close frames. The reply is buffered and
// written under writeMu so it never interleaves with a keepalive ping.
func (c *wsConn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlFrameHandler(&reply, ws.StateClientSide)(hdr, r)
	if reply.Len() > 0 {
		if werr := c.write(reply.Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func (c *wsConn) write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(p)
	return err
}

func (c *wsConn) keepalive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			var frame bytes.Buffer
			if err := wsutil.WriteClientMessage(&frame, ws.OpPing, nil); err != nil {
				return
			}
			if err := c.write(frame.Bytes()); err != nil {
				// The read deadline reports the failure to the client.
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
