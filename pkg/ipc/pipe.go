// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	protoio "github.com/gogo/protobuf/io"
	"github.com/gogo/protobuf/proto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/drpc/drpcsignal"
)

// MaxMessageSize is the largest message a pipe accepts.
const MaxMessageSize = 16 << 20

// DefaultInboxSize is the number of received messages buffered by a pipe.
const DefaultInboxSize = 1024

// Pipe is a duplex channel of framed messages.
//
// A reader goroutine started by Run decodes incoming messages into a buffered
// inbox, so Poll never blocks the process loop.
type Pipe struct {
	log *zap.Logger
	r   io.ReadCloser
	w   io.WriteCloser

	mu     sync.Mutex
	writer protoio.WriteCloser

	inbox  chan *Message
	closed drpcsignal.Signal
}

// NewPipe creates a pipe reading from r and writing to w.
func NewPipe(log *zap.Logger, r io.ReadCloser, w io.WriteCloser, inboxSize int) *Pipe {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Pipe{
		log:    log,
		r:      r,
		w:      w,
		writer: protoio.NewDelimitedWriter(w),
		inbox:  make(chan *Message, inboxSize),
	}
}

// NewPipePair creates two connected pipes, as used between the controller
// and a child. The files of the second pipe are returned for passing to the child.
func NewPipePair(log *zap.Logger) (local *Pipe, childRead, childWrite *os.File, err error) {
	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, Error.Wrap(err)
	}
	fromChildR, fromChildW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, Error.Wrap(errs.Combine(err, toChildR.Close(), toChildW.Close()))
	}
	return NewPipe(log, fromChildR, toChildW, 0), toChildR, fromChildW, nil
}

// Run reads messages until the pipe is closed or ctx is canceled. Frames that
// do not decode into a message are dropped with a warning.
func (pipe *Pipe) Run(ctx context.Context) (err error) {
	reader := bufio.NewReader(pipe.r)
	defer func() { pipe.closed.Set(Error.New("pipe closed")) }()

	for {
		body, err := readFrame(reader)
		if errors.Is(err, errFrameTooLarge) {
			mon.Counter("pipe_malformed_messages").Inc(1)
			pipe.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) || pipe.closed.Err() != nil {
				return nil
			}
			return Error.New("reading message: %w", err)
		}

		msg := new(Message)
		if err := proto.Unmarshal(body, msg); err != nil {
			mon.Counter("pipe_malformed_messages").Inc(1)
			pipe.log.Warn("dropping malformed message", zap.Int("size", len(body)), zap.Error(err))
			continue
		}

		select {
		case pipe.inbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-pipe.closed.Signal():
			return nil
		}
	}
}

var errFrameTooLarge = errs.New("frame exceeds %d bytes", MaxMessageSize)

// readFrame reads one varint length delimited frame. An oversized frame is
// skipped and reported with errFrameTooLarge.
func readFrame(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxMessageSize {
		if _, err := r.Discard(int(size)); err != nil {
			return nil, err
		}
		return nil, errFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Send writes a message.
func (pipe *Pipe) Send(msg *Message) error {
	if err := pipe.closed.Err(); err != nil {
		return err
	}

	pipe.mu.Lock()
	defer pipe.mu.Unlock()

	if err := pipe.writer.WriteMsg(msg); err != nil {
		return Error.New("sending %s: %w", msg.Signal, err)
	}
	mon.Counter("pipe_sent_messages").Inc(1)
	return nil
}

// Poll returns a received message without blocking.
func (pipe *Pipe) Poll() (*Message, bool) {
	select {
	case msg := <-pipe.inbox:
		return msg, true
	default:
		return nil, false
	}
}

// Recv waits for a received message.
func (pipe *Pipe) Recv(ctx context.Context) (*Message, error) {
	select {
	case msg := <-pipe.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pipe.closed.Signal():
		// drain what arrived before closing.
		select {
		case msg := <-pipe.inbox:
			return msg, nil
		default:
			return nil, pipe.closed.Err()
		}
	}
}

// Closed is closed once the peer hung up or Close was called.
func (pipe *Pipe) Closed() <-chan struct{} { return pipe.closed.Signal() }

// Close closes both directions.
func (pipe *Pipe) Close() error {
	pipe.closed.Set(Error.New("pipe closed"))

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	return errs.Combine(pipe.w.Close(), pipe.r.Close())
}
