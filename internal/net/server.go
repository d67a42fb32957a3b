// Package net serves the exchange event feed over TCP. Subscribers pick the
// markets they want; every event the exchange publishes is framed once and
// written to each interested subscriber by a single broadcaster.
package net

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"computex/internal/events"
	"computex/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers     = 10
	defaultReadTimeout  = 100 * time.Millisecond
	defaultWriteTimeout = time.Second
	outboundBufferSize  = 1024
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn    net.Conn
	reader  *bufio.Reader
	mask    atomic.Uint32
	writeMu sync.Mutex
}

func (c *ClientSession) address() string {
	return c.conn.RemoteAddr().String()
}

func (c *ClientSession) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(frame)
	return err
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	session *ClientSession
	message Message
}

type Server struct {
	address            string
	port               int
	pool               *utils.WorkerPool
	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
	outbound           chan events.Event

	ready chan struct{}
	addr  net.Addr
}

func New(address string, port int) *Server {
	return &Server{
		address:        address,
		port:           port,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]*ClientSession),
		clientMessages: make(chan ClientMessage, 16),
		outbound:       make(chan events.Event, outboundBufferSize),
		ready:          make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, valid after Ready.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Publish queues an event for broadcast. It never blocks the caller; when
// the feed falls behind, events are dropped.
func (s *Server) Publish(ev events.Event) {
	select {
	case s.outbound <- ev:
	default:
		log.Warn().
			Str("kind", ev.Kind().String()).
			Msg("feed backlog full, dropping event")
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler and the broadcaster.
	t.Go(func() error {
		return s.sessionHandler(t)
	})
	t.Go(func() error {
		return s.broadcaster(t)
	})

	// Unblock Accept and drop every client once dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeAll()
		return nil
	})

	log.Info().Str("address", s.addr.String()).Msg("feed running")

	// Start accepting connections.
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				log.Info().Msg("feed shutting down")
				if err := t.Wait(); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		session := &ClientSession{conn: conn, reader: bufio.NewReaderSize(conn, MAX_RECV_SIZE)}
		session.mask.Store(AllResources)
		log.Info().
			Str("address", session.address()).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		s.addClientSession(session)

		// Pass over the connection to be read from.
		s.pool.Submit(t, session)
	}
}

// sessionHandler applies client control messages received from the pool of
// workers, in the order each client sent them.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			switch m := msg.message.(type) {
			case SubscribeMessage:
				msg.session.mask.Store(m.ResourceMask)
				log.Debug().
					Str("address", msg.session.address()).
					Uint32("mask", m.ResourceMask).
					Msg("subscription updated")
			default:
				if m.GetType() == Heartbeat {
					if err := msg.session.write(HeartbeatFrame()); err != nil {
						s.dropClient(msg.session, err)
					}
				}
			}
		}
	}
}

// broadcaster is the only writer of event frames.
func (s *Server) broadcaster(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case ev := <-s.outbound:
			frame, err := EncodeEvent(ev)
			if err != nil {
				log.Error().Err(err).Str("kind", ev.Kind().String()).Msg("unable to encode event")
				continue
			}
			for _, session := range s.sessions() {
				if !Wants(session.mask.Load(), ev.Market()) {
					continue
				}
				if err := session.write(frame); err != nil {
					s.dropClient(session, err)
				}
			}
		}
	}
}

// handleConnection is a short-lived worker method which reads the next message off the
// connection, parses and passes it forward to sessionHandler to handle it. If the connection
// dies, the client session is cleaned up. A read that times out keeps whatever was
// buffered and hands the session back to the pool.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	// Set max read timeout.
	if err := session.conn.SetReadDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
		s.dropClient(session, err)
		return nil
	}

	typeOf, body, err := s.readMessage(session.reader)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.requeue(t, session)
			return nil
		}
		// If a read from a client fails, it is likely that the client
		// has exited. Clean up the client session.
		s.dropClient(session, err)
		return nil
	}

	message, err := parseMessage(typeOf, body)
	if err != nil {
		s.dropClient(session, err)
		return nil
	}

	// Pass over to the message handling buffer.
	select {
	case s.clientMessages <- ClientMessage{session: session, message: message}:
	case <-t.Dying():
		return nil
	}

	// Push the client connection back to handle the next message.
	s.requeue(t, session)
	return nil
}

// readMessage peeks a whole frame before consuming it, so a timeout part way
// through leaves the bytes buffered for the next attempt.
func (s *Server) readMessage(r *bufio.Reader) (uint16, []byte, error) {
	header, err := r.Peek(HeaderLen)
	if err != nil {
		return 0, nil, err
	}
	typeOf := binary.BigEndian.Uint16(header[0:2])
	n := int(binary.BigEndian.Uint32(header[2:6]))
	if HeaderLen+n > MAX_RECV_SIZE {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	whole, err := r.Peek(HeaderLen + n)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, n)
	copy(body, whole[HeaderLen:])
	if _, err := r.Discard(HeaderLen + n); err != nil {
		return 0, nil, err
	}
	return typeOf, body, nil
}

func (s *Server) requeue(t *tomb.Tomb, session *ClientSession) {
	s.pool.Submit(t, session)
}

// Subscribers is the number of connected clients.
func (s *Server) Subscribers() int {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	return len(s.clientSessions)
}

func (s *Server) sessions() []*ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	out := make([]*ClientSession, 0, len(s.clientSessions))
	for _, c := range s.clientSessions {
		out = append(out, c)
	}
	return out
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(session *ClientSession) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[session.address()] = session
}

// dropClient removes a session and closes its connection.
func (s *Server) dropClient(session *ClientSession, cause error) {
	s.clientSessionsLock.Lock()
	_, ok := s.clientSessions[session.address()]
	delete(s.clientSessions, session.address())
	s.clientSessionsLock.Unlock()
	if !ok {
		return
	}

	log.Info().
		Err(cause).
		Str("address", session.address()).
		Msg("client removed")
	if err := session.conn.Close(); err != nil {
		log.Error().Err(err).Str("address", session.address()).Msg("unable to close connection")
	}
}

func (s *Server) closeAll() {
	for _, session := range s.sessions() {
		s.dropClient(session, nil)
	}
}
