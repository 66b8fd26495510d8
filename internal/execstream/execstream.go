// Package execstream runs one command on a terminal target and streams its
// output line by line until the exit sentinel or the end of the stream.
package execstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"

	"github.com/komodoctl/komodoctl/internal/protocol"
)

const readChunkSize = 32 << 10

// Opener opens the streaming response for an exec request.
type Opener interface {
	OpenStream(ctx context.Context, path string, body any) (io.ReadCloser, error)
}

// Executor runs commands through an Opener, usually the RPC client.
type Executor struct {
	opener Opener
	logger *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Executor.
func New(opener Opener, opts ...Option) *Executor {
	e := &Executor{opener: opener, logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream is the output of one command. It is consumed once by a single
// goroutine; a new command needs a new Stream.
type Stream struct {
	body io.ReadCloser
	buf  LineBuffer

	consumed bool
	done     bool
	err      error
	code     string
	haveCode bool
}

// ExecuteStream starts command on target. Failures before any output is
// received are returned here; later failures are reported by Err after the
// partial output has been yielded.
func (e *Executor) ExecuteStream(ctx context.Context, target protocol.TerminalTarget, command string) (*Stream, error) {
	if target == nil {
		return nil, errors.New("execstream: target is nil")
	}
	body, err := e.opener.OpenStream(ctx, target.ExecutePath(), target.ExecuteBody(command))
	if err != nil {
		return nil, fmt.Errorf("execstream: open %s: %w", target.ExecutePath(), err)
	}
	return &Stream{body: body}, nil
}

// Lines yields each output line as it arrives, including the exit
// sentinel line, which is always the last one yielded. Iteration reads
// from the network lazily; breaking out early closes the stream.
func (s *Stream) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.close()

		chunk := make([]byte, readChunkSize)
		for {
			n, err := s.body.Read(chunk)
			if n > 0 {
				for _, line := range s.buf.Write(chunk[:n]) {
					if !s.emit(line, yield) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.err = fmt.Errorf("execstream: read: %w", err)
				}
				if line, ok := s.buf.Flush(); ok {
					s.emit(line, yield)
				}
				return
			}
		}
	}
}

// emit yields one line and records the exit code when it is the sentinel.
// It returns false when iteration must stop.
func (s *Stream) emit(line string, yield func(string) bool) bool {
	code, isSentinel := protocol.ParseExitSentinel(line)
	if isSentinel {
		s.code, s.haveCode = code, true
	}
	if !yield(line) {
		return false
	}
	return !isSentinel
}

func (s *Stream) close() {
	if s.done {
		return
	}
	s.done = true
	_ = s.body.Close()
}

// Close releases the stream without reading the rest of it.
func (s *Stream) Close() error {
	s.consumed = true
	s.close()
	return nil
}

// Err returns the transport error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// ExitCode returns the code from the exit sentinel. ok is false when the
// stream ended without one, which means the command did not finish
// normally; it never defaults to "0".
func (s *Stream) ExitCode() (code string, ok bool) {
	return s.code, s.haveCode
}

// Callbacks receive the output of Execute.
type Callbacks struct {
	// OnLine is called once per line, including the sentinel line.
	OnLine func(line string)
	// OnFinish is called once with the exit code; ok is false when no
	// sentinel was seen.
	OnFinish func(code string, ok bool)
}

// Execute runs command and reports output through callbacks. It returns
// after OnFinish, with the error that ended the stream early, if any.
func (e *Executor) Execute(ctx context.Context, target protocol.TerminalTarget, command string, cb Callbacks) error {
	stream, err := e.ExecuteStream(ctx, target, command)
	if err != nil {
		return err
	}
	for line := range stream.Lines() {
		if cb.OnLine != nil {
			cb.OnLine(line)
		}
	}
	code, ok := stream.ExitCode()
	if cb.OnFinish != nil {
		cb.OnFinish(code, ok)
	}
	if err := stream.Err(); err != nil {
		e.logger.Printf("[execstream] %s ended early: %v", target.ExecutePath(), err)
		return err
	}
	return nil
}
