package api

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ChayaSt/QCFractal/pkg/log"
	"github.com/ChayaSt/QCFractal/pkg/metrics"
	"github.com/ChayaSt/QCFractal/pkg/storage"
)

// maxRequestBytes bounds one request frame. Molecule batches get big;
// anything past this is a malformed or hostile client.
const maxRequestBytes = 32 << 20

// Config parameterizes the API server.
type Config struct {
	// Address to listen on, host:port.
	Address string

	// Name reported by the information operation.
	Name string

	// Version reported by the information operation.
	Version string
}

// Server answers wire requests against a storage socket. The protocol
// is newline-delimited JSON over TCP, one request frame per line, one
// response frame back.
type Server struct {
	socket *storage.BoltSocket
	cfg    Config
	logger zerolog.Logger

	listener  net.Listener
	tlsConfig *tls.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
	conns    map[net.Conn]struct{}

	handlers map[string]func(context.Context, *Request) *Response
}

// NewServer creates an API server over an open storage socket.
func NewServer(socket *storage.BoltSocket, cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socket: socket,
		cfg:    cfg,
		logger: log.WithComponent("api"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
	s.initHandlers()
	return s
}

// initHandlers initializes the operation handler map.
func (s *Server) initHandlers() {
	s.handlers = map[string]func(context.Context, *Request) *Response{
		OpInformation: s.handleInformation,

		OpAddMolecules: s.handleAddMolecules,
		OpGetMolecules: s.handleGetMolecules,
		OpDelMolecules: s.handleDelMolecules,

		OpAddOptions: s.handleAddOptions,
		OpGetOptions: s.handleGetOptions,
		OpDelOptions: s.handleDelOptions,

		OpAddCollection:  s.handleAddCollection,
		OpGetCollections: s.handleGetCollections,
		OpDelCollection:  s.handleDelCollection,

		OpAddResults:     s.handleAddResults,
		OpGetResults:     s.handleGetResults,
		OpGetResultsByID: s.handleGetResultsByID,
		OpDelResults:     s.handleDelResults,

		OpAddProcedures:   s.handleAddProcedures,
		OpGetProcedures:   s.handleGetProcedures,
		OpUpdateProcedure: s.handleUpdateProcedure,

		OpAddServices:    s.handleAddServices,
		OpGetServices:    s.handleGetServices,
		OpUpdateServices: s.handleUpdateServices,
		OpDelServices:    s.handleDelServices,

		OpQueueSubmit:       s.handleQueueSubmit,
		OpQueueGet:          s.handleQueueGet,
		OpQueueGetNext:      s.handleQueueGetNext,
		OpQueueMarkComplete: s.handleQueueMarkComplete,
		OpQueueMarkError:    s.handleQueueMarkError,
		OpQueueResetStatus:  s.handleQueueResetStatus,

		OpHandleHooks:  s.handleHandleHooks,
		OpUpdateRecord: s.handleUpdateRecord,
		OpRecordStatus: s.handleRecordStatus,

		OpManagerUpdate: s.handleManagerUpdate,
		OpGetManagers:   s.handleGetManagers,
	}
}

// Start begins listening and accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Bool("tls", s.tlsConfig != nil).
		Msg("API server listening")
	metrics.SetComponent("api", true, "")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Useful when the configured
// port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Address
	}
	return s.listener.Addr().String()
}

// Stop stops the server: close the listener, hang up every open
// connection, and wait for their handlers to finish. Without the
// hangup an idle client (a remote manager between ticks) would park
// its handler in a read forever.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()

	metrics.SetComponent("api", false, "stopped")
	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error().Err(err).Msg("Accept failed")
				continue
			}
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.send(writer, errorResponse("invalid request JSON: "+err.Error()))
			continue
		}

		s.send(writer, s.handleRequest(&req))
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Msg("Connection read ended")
	}
}

func (s *Server) send(writer *bufio.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	if _, err := writer.Write(append(data, '\n')); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
		return
	}
	if err := writer.Flush(); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to flush response")
	}
}

// handleRequest authenticates and dispatches one request frame.
func (s *Server) handleRequest(req *Request) *Response {
	timer := metrics.NewTimer()
	op := req.Operation

	handler, ok := s.handlers[op]
	if !ok {
		metrics.APIRequestsTotal.WithLabelValues(op, "failure").Inc()
		return errorResponse(fmt.Sprintf("unknown operation %q", op))
	}

	allowed, reason, err := s.socket.VerifyUser(req.Username, req.Password, opPermissions[op])
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(op, "failure").Inc()
		return errorResponse("authentication: " + err.Error())
	}
	if !allowed {
		metrics.APIRequestsTotal.WithLabelValues(op, "denied").Inc()
		s.logger.Warn().Str("operation", op).Str("username", req.Username).Str("reason", reason).Msg("Request denied")
		return errorResponse(reason)
	}

	resp := handler(s.ctx, req)

	status := "success"
	if !resp.Meta.Success {
		status = "failure"
	}
	metrics.APIRequestsTotal.WithLabelValues(op, status).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, op)
	return resp
}

// decodeArgs unmarshals the request args into v.
func decodeArgs(req *Request, v interface{}) error {
	if len(req.Args) == 0 {
		return fmt.Errorf("operation %s requires args", req.Operation)
	}
	if err := json.Unmarshal(req.Args, v); err != nil {
		return fmt.Errorf("invalid args for %s: %w", req.Operation, err)
	}
	return nil
}
