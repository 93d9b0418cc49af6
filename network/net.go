// Package network carries replication sessions over TCP, TLS and QUIC.
//
// A Net owns listeners and outgoing connections. Every connection gets a
// protocol handler from the install callback (in practice a sync session)
// and a Peer that pumps bytes between the socket and the handler: the
// read side splits the stream into TLV records and drains them in
// batches, the write side feeds record batches and writes them with one
// vectored write.
//
// Outgoing connections are kept alive: a dropped connection is redialed
// with exponential backoff, 0.5s doubling up to a minute.
//
// Addresses are URLs: "tcp://host:port", "tls://host:port" or
// "quic://host:port"; a bare "host:port" is TCP. TLS and QUIC need a
// tls.Config (NetTlsConfigOpt).
//
//	n := network.NewNet(logger, install, destroy,
//		&network.NetTlsConfigOpt{Config: tlsConfig},
//		&network.NetWriteTimeoutOpt{Timeout: 30 * time.Second},
//	)
//	err := n.Listen("quic://:4242")
//	err = n.Connect("tcp://host.local:4243")
//	defer n.Close()
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type ConnType = uint

var (
	ErrAddressInvalid    = errors.New("the address invalid")
	ErrAddressDuplicated = errors.New("the address already used")
	ErrAddressUnknown    = errors.New("address unknown")
	ErrDisconnected      = errors.New("disconnected by user")
	ErrNoTlsConfig       = errors.New("tls config required")
)

const (
	TCP ConnType = iota + 1
	TLS
	QUIC
)

const (
	TYPICAL_MTU = 1500

	MAX_RETRY_PERIOD = time.Minute
	MIN_RETRY_PERIOD = time.Second / 2

	// pose snapshots are small and frequent, don't sit on them
	DefaultReadAccumTimeLimit = 50 * time.Millisecond
	DefaultBufferMaxSize      = 1 << 24
	DefaultBufferMinToProcess = 1 << 12
)

type InstallCallback func(name string) protocol.FeedDrainCloserTraced
type DestroyCallback func(name string, p protocol.Traced)

// Net keeps one slow receiver from delaying anybody else: every peer
// has its own goroutines and its own outbound queue.
type Net struct {
	wg        sync.WaitGroup
	log       utils.Logger
	onInstall InstallCallback
	onDestroy DestroyCallback

	conns     *xsync.MapOf[string, *Peer]
	listens   *xsync.MapOf[string, net.Listener]
	ctx       context.Context
	cancelCtx context.CancelFunc

	tlsConfig          *tls.Config
	readBufferTcpSize  int
	writeBufferTcpSize int
	readAccumTimeLimit time.Duration
	writeTimeout       time.Duration
	bufferMaxSize      int
	bufferMinToProcess int
}

type NetOpt interface {
	Apply(*Net)
}

type NetWriteTimeoutOpt struct {
	Timeout time.Duration
}

func (opt *NetWriteTimeoutOpt) Apply(n *Net) {
	n.writeTimeout = opt.Timeout
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (opt *NetTlsConfigOpt) Apply(n *Net) {
	n.tlsConfig = opt.Config
}

type NetReadBatchOpt struct {
	ReadAccumTimeLimit time.Duration
	BufferMaxSize      int
	BufferMinToProcess int
}

func (opt *NetReadBatchOpt) Apply(n *Net) {
	n.readAccumTimeLimit = opt.ReadAccumTimeLimit
	n.bufferMaxSize = opt.BufferMaxSize
	n.bufferMinToProcess = opt.BufferMinToProcess
}

type TcpBufferSizeOpt struct {
	Read  int
	Write int
}

func (opt *TcpBufferSizeOpt) Apply(n *Net) {
	n.readBufferTcpSize = opt.Read
	n.writeBufferTcpSize = opt.Write
}

func NewNet(log utils.Logger, install InstallCallback, destroy DestroyCallback, opts ...NetOpt) *Net {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Net{
		log:                log,
		cancelCtx:          cancel,
		ctx:                ctx,
		conns:              xsync.NewMapOf[string, *Peer](),
		listens:            xsync.NewMapOf[string, net.Listener](),
		onInstall:          install,
		onDestroy:          destroy,
		readAccumTimeLimit: DefaultReadAccumTimeLimit,
		bufferMaxSize:      DefaultBufferMaxSize,
		bufferMinToProcess: DefaultBufferMinToProcess,
	}
	for _, o := range opts {
		o.Apply(n)
	}
	return n
}

type NetStats struct {
	ReadBuffers  map[string]int32
	WriteBatches map[string]int32
}

func (n *Net) GetStats() NetStats {
	stats := NetStats{
		ReadBuffers:  make(map[string]int32),
		WriteBatches: make(map[string]int32),
	}
	n.conns.Range(func(name string, peer *Peer) bool {
		if peer != nil {
			stats.ReadBuffers[name] = peer.GetIncomingPacketBufferSize()
			stats.WriteBatches[name] = int32(peer.writeBatchSize.Val())
		}
		return true
	})
	return stats
}

// Peers lists the names of the live connections.
func (n *Net) Peers() (names []string) {
	n.conns.Range(func(name string, peer *Peer) bool {
		if peer != nil {
			names = append(names, name)
		}
		return true
	})
	return
}

func (n *Net) Close() error {
	n.cancelCtx()

	n.listens.Range(func(_ string, l net.Listener) bool {
		if l != nil {
			_ = l.Close()
		}
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, p *Peer) bool {
		// nil while still dialing
		if p != nil {
			p.Close()
		}
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

func (n *Net) Connect(addr string) error {
	return n.ConnectPool(addr, []string{addr})
}

// ConnectPool keeps one connection to whichever of addrs answers first.
func (n *Net) ConnectPool(name string, addrs []string) error {
	// the nil entry blocks a second Connect while the first one dials
	if _, ok := n.conns.LoadOrStore(name, nil); ok {
		return ErrAddressDuplicated
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepConnecting(name, addrs)
	}()
	return nil
}

func (n *Net) Disconnect(name string) error {
	peer, ok := n.conns.LoadAndDelete(name)
	if !ok {
		return ErrAddressUnknown
	}
	if peer != nil {
		peer.Close()
	}
	return nil
}

func (n *Net) Listen(addr string) error {
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)
	n.log.Info("net: listening", "addr", addr)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.KeepListening(addr)
	}()
	return nil
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok {
		return ErrAddressUnknown
	}
	return listener.Close()
}

// KeepConnecting redials until the Net is closed or the connection is
// dropped with Disconnect.
func (n *Net) KeepConnecting(name string, addrs []string) {
	backoff := MIN_RETRY_PERIOD
	for n.ctx.Err() == nil {
		if _, ok := n.conns.Load(name); !ok {
			return
		}
		var err error
		var conn net.Conn
		for _, addr := range addrs {
			if conn, err = n.createConn(addr); err == nil {
				break
			}
		}

		if err != nil {
			n.log.Error("net: couldn't connect", "name", name, "err", err, "retry", backoff)
			select {
			case <-time.After(backoff):
			case <-n.ctx.Done():
			}
			backoff = min(MAX_RETRY_PERIOD, backoff*2)
			continue
		}
		n.setTCPBuffersSize(n.log.WithDefaultArgs(context.Background(), "name", name), conn)
		n.log.Info("net: connected", "name", name)

		backoff = MIN_RETRY_PERIOD
		n.keepPeer(name, conn)
	}
}

func (n *Net) setTCPBuffersSize(ctx context.Context, conn net.Conn) {
	if n.readBufferTcpSize == 0 && n.writeBufferTcpSize == 0 {
		return
	}
	var tconn *net.TCPConn
	switch res := conn.(type) {
	case *tls.Conn:
		nconn, ok := res.NetConn().(*net.TCPConn)
		if !ok {
			n.log.WarnCtx(ctx, "net: unable to set buffers, tls over a strange conn")
			return
		}
		tconn = nconn
	case *net.TCPConn:
		tconn = res
	default:
		// QUIC manages its own buffers
		return
	}
	if n.readBufferTcpSize > 0 {
		_ = tconn.SetReadBuffer(n.readBufferTcpSize)
	}
	if n.writeBufferTcpSize > 0 {
		_ = tconn.SetWriteBuffer(n.writeBufferTcpSize)
	}
}

func (n *Net) KeepListening(addr string) {
	for n.ctx.Err() == nil {
		listener, ok := n.listens.Load(addr)
		if !ok || listener == nil {
			break
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			// reconnects are the client's problem
			n.log.Error("net: couldn't accept", "addr", addr, "err", err)
			continue
		}

		remoteAddr := conn.RemoteAddr().String()
		n.log.Info("net: accepted", "addr", addr, "remoteAddr", remoteAddr)
		n.setTCPBuffersSize(n.log.WithDefaultArgs(context.Background(), "addr", addr, "remoteAddr", remoteAddr), conn)
		name := fmt.Sprintf("listen:%s:%s", uuid.Must(uuid.NewV7()).String(), remoteAddr)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.keepPeer(name, conn)
		}()
	}

	if l, ok := n.listens.LoadAndDelete(addr); ok && l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: couldn't close listener", "addr", addr, "err", err)
		}
	}
	n.log.Info("net: listener closed", "addr", addr)
}

func (n *Net) keepPeer(name string, conn net.Conn) {
	peer := &Peer{
		inout:               n.onInstall(name),
		conn:                conn,
		writeTimeout:        n.writeTimeout,
		readAccumtTimeLimit: n.readAccumTimeLimit,
		bufferMaxSize:       n.bufferMaxSize,
		bufferMinToProcess:  n.bufferMinToProcess,
		writeBatchSize:      &utils.AvgVal{},
	}
	n.conns.Store(name, peer)
	PeersConnected.Inc()

	readErr, writeErr, closeErr := peer.Keep(n.ctx)
	if readErr != nil {
		n.log.Error("net: couldn't read from peer", "name", name, "err", readErr, "trace_id", peer.GetTraceId())
	}
	if writeErr != nil {
		n.log.Error("net: couldn't write to peer", "name", name, "err", writeErr, "trace_id", peer.GetTraceId())
	}
	if closeErr != nil {
		n.log.Error("net: couldn't close peer", "name", name, "err", closeErr, "trace_id", peer.GetTraceId())
	}

	// keep the nil placeholder for outgoing conns so KeepConnecting redials
	if strings.HasPrefix(name, "listen:") {
		n.conns.Delete(name)
	} else {
		n.conns.Compute(name, func(old *Peer, loaded bool) (*Peer, bool) {
			if !loaded {
				return nil, true
			}
			if old != peer {
				return old, false
			}
			return nil, false
		})
	}
	PeersConnected.Dec()
	peer.Close()
	n.onDestroy(name, peer)
}

func (n *Net) createListener(addr string) (net.Listener, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	switch connType {
	case TLS:
		if n.tlsConfig == nil {
			return nil, ErrNoTlsConfig
		}
		config := net.ListenConfig{}
		listener, err := config.Listen(n.ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return tls.NewListener(listener, n.tlsConfig), nil

	case QUIC:
		if n.tlsConfig == nil {
			return nil, ErrNoTlsConfig
		}
		return listenQuic(n.ctx, address, n.tlsConfig)

	default:
		config := net.ListenConfig{}
		return config.Listen(n.ctx, "tcp", address)
	}
}

func (n *Net) createConn(addr string) (net.Conn, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	switch connType {
	case TLS:
		if n.tlsConfig == nil {
			return nil, ErrNoTlsConfig
		}
		d := tls.Dialer{Config: n.tlsConfig}
		return d.DialContext(n.ctx, "tcp", address)

	case QUIC:
		if n.tlsConfig == nil {
			return nil, ErrNoTlsConfig
		}
		return dialQuic(n.ctx, address, n.tlsConfig)

	default:
		d := net.Dialer{Timeout: time.Minute}
		return d.DialContext(n.ctx, "tcp", address)
	}
}

// parseAddr:
//
//	"tcp://localhost:8080" -> TCP, "localhost:8080"
//	"quic://example.com:443" -> QUIC, "example.com:443"
//	"localhost:8080" -> TCP, "localhost:8080"
func parseAddr(addr string) (ConnType, string, error) {
	if !strings.Contains(addr, "://") {
		return TCP, addr, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", err
	}

	var conn ConnType
	switch u.Scheme {
	case "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	case "quic":
		conn = QUIC
	default:
		return conn, addr, ErrAddressInvalid
	}
	if u.Host == "" {
		return conn, addr, ErrAddressInvalid
	}
	return conn, u.Host, nil
}
