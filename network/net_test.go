package network

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

// testHandler keeps what it receives apart from what it sends.
type testHandler struct {
	in  *utils.RecordQueue[protocol.Records]
	out *utils.RecordQueue[protocol.Records]
}

func newTestHandler() *testHandler {
	return &testHandler{
		in:  utils.NewRecordQueue[protocol.Records](1024),
		out: utils.NewRecordQueue[protocol.Records](1024),
	}
}

func (h *testHandler) Drain(ctx context.Context, recs protocol.Records) error {
	return h.in.Drain(ctx, recs)
}

func (h *testHandler) Feed(ctx context.Context) (protocol.Records, error) {
	recs, err := h.out.Feed(ctx)
	if errors.Is(err, utils.ErrClosed) {
		err = io.EOF
	}
	return recs, err
}

func (h *testHandler) Close() error {
	_ = h.in.Close()
	return h.out.Close()
}

func (h *testHandler) GetTraceId() string {
	return ""
}

func feedOne(t *testing.T, q *utils.RecordQueue[protocol.Records]) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := q.Feed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	return recs[0]
}

func TestNet_TCPEcho(t *testing.T) {
	loop := "tcp://127.0.0.1:32101"
	log := utils.NewDefaultLogger(slog.LevelDebug)

	srv := newTestHandler()
	l := NewNet(log, func(_ string) protocol.FeedDrainCloserTraced {
		return srv
	}, func(_ string, _ protocol.Traced) {}, &NetWriteTimeoutOpt{Timeout: time.Minute})
	require.NoError(t, l.Listen(loop))
	assert.ErrorIs(t, l.Listen(loop), ErrAddressDuplicated)

	cli := newTestHandler()
	c := NewNet(log, func(_ string) protocol.FeedDrainCloserTraced {
		return cli
	}, func(_ string, _ protocol.Traced) {}, &NetReadBatchOpt{
		ReadAccumTimeLimit: 10 * time.Millisecond,
		BufferMaxSize:      DefaultBufferMaxSize,
		BufferMinToProcess: 1,
	})
	require.NoError(t, c.Connect(loop))
	assert.ErrorIs(t, c.Connect(loop), ErrAddressDuplicated)

	require.NoError(t, cli.out.Drain(context.Background(), protocol.Records{protocol.Record('M', []byte("Hi there"))}))
	lit, body, rest := protocol.TakeAny(feedOne(t, srv.in))
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, "Hi there", string(body))
	assert.Empty(t, rest)

	require.NoError(t, srv.out.Drain(context.Background(), protocol.Records{protocol.Record('M', []byte("Re: Hi there"))}))
	lit, body, _ = protocol.TakeAny(feedOne(t, cli.in))
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, "Re: Hi there", string(body))

	assert.Len(t, c.Peers(), 1)
	assert.Contains(t, c.GetStats().ReadBuffers, loop)

	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

// selfSigned makes a config good for both ends of a loopback session.
func selfSigned(t *testing.T) *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "metasync.local"},
		DNSNames:     []string{"metasync.local"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Config{
		Certificates:       []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		InsecureSkipVerify: true,
	}
}

func TestNet_QUICEcho(t *testing.T) {
	loop := "quic://127.0.0.1:32104"
	log := utils.NewDefaultLogger(slog.LevelDebug)
	conf := &NetTlsConfigOpt{Config: selfSigned(t)}

	srv := newTestHandler()
	l := NewNet(log, func(_ string) protocol.FeedDrainCloserTraced {
		return srv
	}, func(_ string, _ protocol.Traced) {}, conf)
	require.NoError(t, l.Listen(loop))

	cli := newTestHandler()
	c := NewNet(log, func(_ string) protocol.FeedDrainCloserTraced {
		return cli
	}, func(_ string, _ protocol.Traced) {}, conf)
	// the listener sees the stream once the dialer writes to it
	require.NoError(t, cli.out.Drain(context.Background(), protocol.Records{protocol.Record('M', []byte("Hi there"))}))
	require.NoError(t, c.Connect(loop))

	lit, body, rest := protocol.TakeAny(feedOne(t, srv.in))
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, "Hi there", string(body))
	assert.Empty(t, rest)

	require.NoError(t, srv.out.Drain(context.Background(), protocol.Records{protocol.Record('M', []byte("Re: Hi there"))}))
	lit, body, _ = protocol.TakeAny(feedOne(t, cli.in))
	assert.Equal(t, byte('M'), lit)
	assert.Equal(t, "Re: Hi there", string(body))

	assert.Len(t, c.Peers(), 1)
	assert.NoError(t, c.Close())
	assert.NoError(t, l.Close())
}

func TestNet_Disconnect(t *testing.T) {
	n := NewNet(utils.NopLogger(), func(_ string) protocol.FeedDrainCloserTraced {
		return newTestHandler()
	}, func(_ string, _ protocol.Traced) {})
	defer n.Close()

	assert.ErrorIs(t, n.Disconnect("tcp://127.0.0.1:1"), ErrAddressUnknown)
	// nobody listens there, the entry stays while redialing
	require.NoError(t, n.Connect("tcp://127.0.0.1:1"))
	assert.NoError(t, n.Disconnect("tcp://127.0.0.1:1"))
	assert.Empty(t, n.Peers())
}

func TestNet_NoTlsConfig(t *testing.T) {
	n := NewNet(utils.NopLogger(), nil, nil)
	defer n.Close()
	assert.ErrorIs(t, n.Listen("quic://127.0.0.1:32102"), ErrNoTlsConfig)
	assert.ErrorIs(t, n.Listen("tls://127.0.0.1:32103"), ErrNoTlsConfig)
	// a failed listen frees the address
	assert.ErrorIs(t, n.Listen("quic://127.0.0.1:32102"), ErrNoTlsConfig)
}

func TestParseAddr(t *testing.T) {
	cases := []struct {
		addr string
		kind ConnType
		host string
		err  error
	}{
		{"tcp://localhost:8080", TCP, "localhost:8080", nil},
		{"tls://example.com:443", TLS, "example.com:443", nil},
		{"quic://example.com:443", QUIC, "example.com:443", nil},
		{"localhost:8080", TCP, "localhost:8080", nil},
		{"udp://localhost:8080", 0, "", ErrAddressInvalid},
		{"tcp://", TCP, "", ErrAddressInvalid},
	}
	for _, c := range cases {
		kind, host, err := parseAddr(c.addr)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.addr)
			continue
		}
		assert.NoError(t, err, c.addr)
		assert.Equal(t, c.kind, kind, c.addr)
		assert.Equal(t, c.host, host, c.addr)
	}
}
