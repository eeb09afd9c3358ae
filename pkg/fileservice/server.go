package fileservice

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/wire"
)

// Server accepts connections and dispatches one RESP command per request,
// mirroring pkg/userservice/server.go's connection-handling shape. Unlike
// the user service, each connection carries its own dispatch state (the
// USER-set acting user), so Server constructs one Conn per accepted
// connection rather than dispatching straight against the shared Service.
type Server struct {
	svc     *Service
	metrics *metrics.Metrics
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

// WithMetrics attaches a metrics sink propagated to every Conn this server
// constructs; met may be nil.
func (srv *Server) WithMetrics(met *metrics.Metrics) *Server {
	srv.metrics = met
	return srv
}

func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go srv.handle(ctx, conn)
	}
}

func (srv *Server) handle(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()
	peer := netConn.RemoteAddr().String()
	r := bufio.NewReader(netConn)
	fsConn := NewConn(srv.svc).WithMetrics(srv.metrics)

	for {
		args, err := wire.ReadCommand(r)
		if err != nil {
			return
		}
		fields := &logging.Fields{Peer: peer}
		if len(args) > 0 {
			fields.Verb = args[0]
		}
		reqCtx := logging.Into(ctx, fields)

		result, err := fsConn.Dispatch(reqCtx, args)
		reply := encodeReply(result, err)
		if werr := reply.WriteTo(netConn); werr != nil {
			return
		}
	}
}

// encodeReply renders a Dispatch result (or error) as a wire.Reply,
// covering every return shape this package's Conn.Dispatch produces.
func encodeReply(v any, err error) wire.Reply {
	if err != nil {
		return wire.ErrReply(apperr.ToWire(err))
	}

	switch val := v.(type) {
	case nil:
		return wire.Null{}
	case string:
		return wire.Bulk(val)
	case bool:
		if val {
			return wire.Integer(1)
		}
		return wire.Integer(0)
	case []string:
		return wire.BulkStrings(val)
	case StatResult:
		kind := "file"
		if val.IsDir {
			kind = "dir"
		}
		return wire.Bulk(fmt.Sprintf("%s %s %d", val.Name, kind, val.Size))
	case UsageResult:
		return wire.Bulk(fmt.Sprintf("%d %d", val.Items, val.KB))
	default:
		return wire.ErrReply(apperr.ToWire(apperr.New(apperr.Internal, "unencodable reply")))
	}
}
