package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/protocol"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

// Peer pumps one connection: a read loop that splits the byte stream
// into TLV records and drains them to the protocol handler, and a write
// loop that feeds record batches from the handler into the socket.
//
// Reads accumulate until bufferMinToProcess bytes are buffered, the
// buffer hits bufferMaxSize or readAccumtTimeLimit passes, whichever
// comes first. Draining runs in its own goroutine so the socket keeps
// being read while the replica applies the previous batch.
type Peer struct {
	closed         atomic.Bool
	wg             sync.WaitGroup
	writeBatchSize *utils.AvgVal

	conn                net.Conn
	inout               protocol.FeedDrainCloserTraced
	incomingBuffer      atomic.Int32
	readAccumtTimeLimit time.Duration
	bufferMaxSize       int
	bufferMinToProcess  int
	writeTimeout        time.Duration
}

func (p *Peer) getReadTimeLimit() time.Duration {
	if p.readAccumtTimeLimit != 0 {
		return p.readAccumtTimeLimit
	}
	return DefaultReadAccumTimeLimit
}

// drainLoop applies record batches handed over by keepRead.
func (p *Peer) drainLoop(ctx context.Context, batches <-chan protocol.Records, errs chan<- error) {
	defer close(errs)
	for recs := range batches {
		if len(recs) == 0 {
			continue
		}
		if err := p.inout.Drain(ctx, recs); err != nil {
			errs <- err
			return
		}
	}
}

func (p *Peer) keepRead(ctx context.Context) error {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// one batch in flight while the next one accumulates
	batches := make(chan protocol.Records, 1)
	errs := make(chan error, 1)
	go p.drainLoop(ctx, batches, errs)
	defer close(batches)

	var deadline time.Time
	eof := false
	for !p.closed.Load() && !eof {
		select {
		case err, ok := <-errs:
			if ok {
				return err
			}
			return nil
		default:
		}
		if buf.Len() < p.bufferMaxSize {
			if buf.Available() < TYPICAL_MTU {
				buf.Grow(TYPICAL_MTU)
			}
			idle := buf.AvailableBuffer()[:buf.Available()]
			if deadline.IsZero() {
				deadline = time.Now().Add(p.getReadTimeLimit())
			}
			_ = p.conn.SetReadDeadline(deadline)
			n, err := p.conn.Read(idle)
			buf.Write(idle[:n])
			BytesRead.Add(float64(n))
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				eof = true
			case errors.Is(err, os.ErrDeadlineExceeded):
			default:
				return err
			}
		}
		p.incomingBuffer.Store(int32(buf.Len()))

		if buf.Len() == 0 {
			deadline = time.Time{}
			continue
		}
		if !eof && time.Now().Before(deadline) && buf.Len() < p.bufferMinToProcess && buf.Len() < p.bufferMaxSize {
			continue
		}
		recs, err := protocol.Split(&buf)
		if errors.Is(err, protocol.ErrIncomplete) {
			if buf.Len() >= p.bufferMaxSize {
				return errors.Join(err, fmt.Errorf("buffer is not enough to read packet"))
			}
		} else if err != nil {
			return err
		}
		if len(recs) > 0 {
			select {
			case batches <- recs:
			case err, ok := <-errs:
				if ok {
					return err
				}
				return nil
			case <-ctx.Done():
				return nil
			}
		}
		deadline = time.Time{}
	}
	return nil
}

func (p *Peer) GetTraceId() string {
	return p.inout.GetTraceId()
}

func (p *Peer) GetIncomingPacketBufferSize() int32 {
	return p.incomingBuffer.Load()
}

func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() && ctx.Err() == nil {
		recs, err := p.inout.Feed(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		size := recs.TotalLen()
		p.writeBatchSize.Add(float64(size))

		if p.writeTimeout != 0 {
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		}
		b := net.Buffers(recs)
		if _, err = b.WriteTo(p.conn); err != nil {
			return err
		}
		BytesWritten.Add(float64(size))
	}
	return nil
}

// Keep runs both loops until either ends. The connection is closed
// once the write loop is done, which also stops the read loop.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	p.wg.Add(1)
	defer p.wg.Done()

	if p.closed.Load() {
		return nil, nil, nil
	}

	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) {
				rerr = nil
			}
			// the handler is done receiving, let the writer say bye
			_ = p.inout.Close()
		case werr = <-writeErrCh:
			cerr = p.conn.Close()
		}
		p.closed.Store(true)
	}
	return
}

func (p *Peer) Close() {
	p.closed.Store(true)
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.wg.Wait()
	_ = p.inout.Close()
}
