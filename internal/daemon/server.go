//go:build linux

package daemon

import (
	"bufio"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
)

// Server bundles the gRPC control listener (Status/Assemble/async-setup
// RPCs) with the raw Unix-domain attach listener that hands namespace fds
// back to a client, which then setns()s into the received fd.
//
// The Serve/Close/listener-ownership shape follows the StartServer/Close/
// Port pattern used elsewhere in this codebase for a single TCP gRPC
// listener, generalized here to the pair of listeners this daemon needs.
type Server struct {
	engine     *Engine
	grpcServer *grpc.Server
	grpcLis    net.Listener
	attachLis  net.Listener
}

// Serve starts the gRPC server on grpcLis and the attach server on
// attachLis, both in background goroutines, and returns immediately.
func Serve(engine *Engine, grpcLis net.Listener, attachLis net.Listener) *Server {
	grpcServer := grpc.NewServer()
	RegisterWormholeControlServer(grpcServer, &Service{Engine: engine})

	s := &Server{engine: engine, grpcServer: grpcServer, grpcLis: grpcLis, attachLis: attachLis}

	go func() {
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.Printf("daemon: grpc serve: %v", err)
		}
	}()
	go s.serveAttach()

	return s
}

// Close stops both listeners.
func (s *Server) Close() {
	s.grpcServer.Stop()
	s.attachLis.Close()
}

func (s *Server) serveAttach() {
	for {
		conn, err := s.attachLis.Accept()
		if err != nil {
			return
		}
		go s.handleAttach(conn)
	}
}

// handleAttach implements the fd-handoff leg: the client writes the
// environment name as a single newline-terminated line, and the daemon
// replies by sending that environment's namespace fd as SCM_RIGHTS
// ancillary data.
func (s *Server) handleAttach(conn net.Conn) {
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		log.Printf("daemon: attach: connection is not a Unix-domain socket")
		return
	}

	name, err := bufio.NewReader(uc).ReadString('\n')
	if err != nil {
		log.Printf("daemon: attach: read request: %v", err)
		return
	}
	name = name[:len(name)-1]

	fd, ok := s.engine.NamespaceFD(name)
	if !ok {
		log.Printf("daemon: attach: %s", fmt.Errorf("no namespace fd available for %q", name))
		return
	}

	if err := sendNamespaceFD(uc, fd); err != nil {
		log.Printf("daemon: attach: %v", err)
	}
}
