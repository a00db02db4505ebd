package connection

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/paynet/fep/internal/ferr"
	"github.com/paynet/fep/internal/metrics"
	"github.com/paynet/fep/internal/model"
	"github.com/paynet/fep/internal/wire"
)

// Handler processes one inbound message from a connected peer and returns
// the response to write back, or an error. A nil response with a nil error
// means "no reply" (one-way message). This is the seam the transaction
// pipeline (internal/pipeline) is invoked through.
type Handler func(ctx context.Context, peer string, msg wire.Message) (wire.Message, error)

// Server is the Dual-Channel Server (C3): the listening side of a channel,
// accepting peer clients on send/receive ports and dispatching inbound
// messages to a Handler. Its lifecycle mirrors model.ServerState; unlike
// Client it never reconnects — spec.md §4.3 requires stop then start.
type Server struct {
	channelID string
	profile   *model.ConnectionProfile
	codec     wire.Codec
	handler   Handler
	logger    *zap.Logger
	metrics   *metrics.Registry

	state int32 // model.ServerState

	mu             sync.Mutex
	sendListener   net.Listener
	recvListener   net.Listener
	actualSendPort int
	actualRecvPort int
	peerCount      int32
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewServer(channelID string, profile *model.ConnectionProfile, codec wire.Codec, handler Handler, logger *zap.Logger, m *metrics.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		channelID: channelID,
		profile:   profile,
		codec:     codec,
		handler:   handler,
		logger:    logger.With(zap.String("channel", channelID)),
		metrics:   m,
		state:     int32(model.ServerStopped),
	}
}

func (s *Server) State() model.ServerState {
	return model.ServerState(atomic.LoadInt32(&s.state))
}

// ActualSendPort returns the concrete bound send port (useful when
// configured as ephemeral port 0).
func (s *Server) ActualSendPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualSendPort
}

// ActualReceivePort returns the concrete bound receive port.
func (s *Server) ActualReceivePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualRecvPort
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int32 { return atomic.LoadInt32(&s.peerCount) }

// Start binds the listening sockets and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(model.ServerStopped), int32(model.ServerStarting)) {
		return ferr.Connection(ferr.CodeNotConnected, "server is not STOPPED", nil)
	}

	sendAddr := fmt.Sprintf("%s:%d", s.profile.Host, s.profile.SendPort)
	sendLn, err := net.Listen("tcp", sendAddr)
	if err != nil {
		atomic.StoreInt32(&s.state, int32(model.ServerFailed))
		return ferr.Connection(ferr.CodeNotConnected, "listen send socket "+sendAddr, err)
	}

	var recvLn net.Listener
	if s.profile.IsDualChannel() {
		recvAddr := fmt.Sprintf("%s:%d", s.profile.Host, s.profile.EffectiveReceivePort())
		recvLn, err = net.Listen("tcp", recvAddr)
		if err != nil {
			sendLn.Close()
			atomic.StoreInt32(&s.state, int32(model.ServerFailed))
			return ferr.Connection(ferr.CodeNotConnected, "listen receive socket "+recvAddr, err)
		}
	} else {
		recvLn = sendLn
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sendListener = sendLn
	s.recvListener = recvLn
	s.actualSendPort = sendLn.Addr().(*net.TCPAddr).Port
	s.actualRecvPort = recvLn.Addr().(*net.TCPAddr).Port
	s.cancel = cancel
	s.mu.Unlock()

	atomic.StoreInt32(&s.state, int32(model.ServerRunning))
	s.logger.Info("server started", zap.Int("send_port", s.actualSendPort), zap.Int("receive_port", s.actualRecvPort))

	s.wg.Add(1)
	go s.acceptLoop(loopCtx, sendLn)
	if recvLn != sendLn {
		s.wg.Add(1)
		go s.acceptLoop(loopCtx, recvLn)
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				return
			}
		}
		s.wg.Add(1)
		go s.handlePeer(ctx, conn)
	}
}

func (s *Server) handlePeer(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	atomic.AddInt32(&s.peerCount, 1)
	defer atomic.AddInt32(&s.peerCount, -1)

	peer := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := s.codec.Decode(reader)
		if err != nil {
			return // peer closed or frame error; single-connection failure only
		}
		resp, err := s.handler(ctx, peer, msg)
		if err != nil {
			s.logger.Warn("handler returned error", zap.String("peer", peer), zap.Error(err))
			continue
		}
		if resp == nil {
			continue
		}
		if err := s.codec.Encode(conn, resp); err != nil {
			s.logger.Warn("write response failed", zap.String("peer", peer), zap.Error(err))
			return
		}
	}
}

// Stop shuts the server down. It never "reconnects" — spec.md §4.3 requires
// a fresh Start after Stop.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(model.ServerRunning), int32(model.ServerStopping)) {
		return ferr.Connection(ferr.CodeNotConnected, "server is not RUNNING", nil)
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	sendLn, recvLn := s.sendListener, s.recvListener
	s.mu.Unlock()

	if sendLn != nil {
		sendLn.Close()
	}
	if recvLn != nil && recvLn != sendLn {
		recvLn.Close()
	}
	s.wg.Wait()
	atomic.StoreInt32(&s.state, int32(model.ServerStopped))
	s.logger.Info("server stopped")
	return nil
}
