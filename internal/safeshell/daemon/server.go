package daemon

import (
	"bufio"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

// Config configures one daemon server instance: its socket and pid-file
// paths.
type Config struct {
	RequestSocketPath string
	MonitorSocketPath string
	PIDFilePath       string
}

// Server owns the two Unix-domain listeners and drives their accept loops.
// State machine: starting -> running -> stopping -> stopped, no back
// transitions.
type Server struct {
	cfg     Config
	manager *Manager
	bus     *events.Bus
	logger  *logrus.Logger

	reqListener net.Listener
	monListener net.Listener

	monitorsMu sync.Mutex
	monitors   map[string]func()

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewServer constructs a daemon server around an already-wired Manager.
func NewServer(cfg Config, manager *Manager, bus *events.Bus, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		cfg:      cfg,
		manager:  manager,
		bus:      bus,
		logger:   logger,
		monitors: make(map[string]func()),
		done:     make(chan struct{}),
	}
}

// Start binds both sockets, writes the pid file, and publishes the started
// status event. It does not block; call Serve to run the accept loops.
func (s *Server) Start() error {
	reqL, err := bindUnixSocket(s.cfg.RequestSocketPath)
	if err != nil {
		return err
	}
	monL, err := bindUnixSocket(s.cfg.MonitorSocketPath)
	if err != nil {
		reqL.Close()
		os.Remove(s.cfg.RequestSocketPath)
		return err
	}
	s.reqListener = reqL
	s.monListener = monL

	if s.cfg.PIDFilePath != "" {
		if err := writePIDFile(s.cfg.PIDFilePath); err != nil {
			s.logger.WithError(err).Warn("failed to write pid file")
		}
	}

	if s.bus != nil {
		s.bus.Publish(events.NewDaemonStatus("started", 0, 0, 0))
	}
	s.logger.WithFields(logrus.Fields{
		"request_socket": s.cfg.RequestSocketPath,
		"monitor_socket": s.cfg.MonitorSocketPath,
	}).Info("daemon started")
	return nil
}

// Serve runs both accept loops until Shutdown is called. It blocks until
// both loops have returned.
func (s *Server) Serve() {
	s.wg.Add(2)
	go s.acceptLoop(s.reqListener, s.handleRequestConn, "request")
	go s.acceptLoop(s.monListener, s.handleMonitorConn, "monitor")
	s.wg.Wait()
}

func (s *Server) acceptLoop(l net.Listener, handle func(net.Conn), name string) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.WithError(err).WithField("listener", name).Warn("accept error")
				return
			}
		}
		go handle(conn)
	}
}

// Shutdown stops accepting new connections, publishes the stopping status,
// closes both listeners, and removes the pid file. It does not forcibly
// terminate in-flight connections; those complete on their own (bounded by
// the approval timeout for any blocked evaluate request).
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.bus != nil {
			s.bus.Publish(events.NewDaemonStatus("stopping", s.manager.Uptime().Seconds(), int(s.manager.CommandsProcessed()), s.ActiveMonitors()))
		}
		if s.reqListener != nil {
			s.reqListener.Close()
		}
		if s.monListener != nil {
			s.monListener.Close()
		}
		os.Remove(s.cfg.RequestSocketPath)
		os.Remove(s.cfg.MonitorSocketPath)
		removePIDFile(s.cfg.PIDFilePath)
		s.logger.Info("daemon stopped")
	})
}

// ActiveMonitors returns the number of currently connected monitor clients.
func (s *Server) ActiveMonitors() int {
	s.monitorsMu.Lock()
	defer s.monitorsMu.Unlock()
	return len(s.monitors)
}

// handleRequestConn services exactly one evaluate/ping/status request per
// connection, recovering from any panic raised while processing it so that
// one misbehaving request never takes down the daemon or another
// connection.
func (s *Server) handleRequestConn(conn net.Conn) {
	defer conn.Close()

	clientPID := peerPID(conn)
	reader := bufio.NewReader(conn)

	var req Request
	if err := ReadMessage(reader, &req); err != nil {
		if err != io.EOF {
			s.logger.WithError(err).Debug("request connection: malformed message")
		}
		return
	}

	resp := s.dispatchRequest(req, clientPID, conn)
	_ = WriteMessage(conn, resp)
}

// dispatchRequest recovers from any panic inside evaluation, returning it as
// a success:false response with an error_message rather than propagating.
func (s *Server) dispatchRequest(req Request, clientPID int, conn net.Conn) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("recovered panic while handling request")
			msg := "internal error"
			resp = Response{Success: false, ErrorMessage: &msg}
		}
	}()

	switch req.Type {
	case "ping":
		return Response{Success: true}
	case "status":
		msg := "ok"
		return Response{Success: true, StatusMessage: &msg}
	case "evaluate":
		return s.manager.Evaluate(req, clientPID, func(intermediate Response) {
			_ = WriteMessage(conn, intermediate)
		})
	default:
		msg := "unknown request type: " + req.Type
		return Response{Success: false, ErrorMessage: &msg}
	}
}

// peerPID best-effort resolves the connecting process id via SO_PEERCRED on
// platforms that support it; 0 if unavailable.
func peerPID(conn net.Conn) int {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0
	}
	return unixPeerPID(uc)
}
