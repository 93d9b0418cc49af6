package network

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const quicProto = "metasync"

// A session uses one bidirectional stream per QUIC connection. quicConn
// presents that stream as a net.Conn so Peer does not care whether it
// runs over TCP or QUIC.
type quicConn struct {
	quic.Stream
	conn quic.Connection
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) Close() error {
	_ = c.Stream.Close()
	return c.conn.CloseWithError(0, "closing")
}

// quicListener accepts connections in the background: a connection only
// becomes a net.Conn once its dialer opened the stream, and a slow
// dialer must not hold up the others.
type quicListener struct {
	listener *quic.Listener
	conns    chan net.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
}

const quicStreamTimeout = 10 * time.Second

func quicTLS(conf *tls.Config) *tls.Config {
	conf = conf.Clone()
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{quicProto}
	}
	return conf
}

func listenQuic(ctx context.Context, addr string, conf *tls.Config) (net.Listener, error) {
	listener, err := quic.ListenAddr(addr, quicTLS(conf), &quic.Config{KeepAlivePeriod: MIN_RETRY_PERIOD * 10})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &quicListener{
		listener: listener,
		conns:    make(chan net.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acceptLoop() {
	defer l.cancel()
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			return
		}
		go l.awaitStream(conn)
	}
}

func (l *quicListener) awaitStream(conn quic.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, quicStreamTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return
	}
	select {
	case l.conns <- &quicConn{Stream: stream, conn: conn}:
	case <-l.ctx.Done():
		_ = conn.CloseWithError(0, "closing")
	}
}

// Accept returns the next connection whose stream is open.
func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	l.cancel()
	return l.listener.Close()
}

func (l *quicListener) Addr() net.Addr {
	return l.listener.Addr()
}

// dialQuic opens the connection and its single stream. The listener
// only sees the stream once something is written to it; the sync
// handshake goes first, so that happens right away.
func dialQuic(ctx context.Context, addr string, conf *tls.Config) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, quicTLS(conf), &quic.Config{KeepAlivePeriod: MIN_RETRY_PERIOD * 10})
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, err
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}
