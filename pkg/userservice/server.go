package userservice

import (
	"bufio"
	"context"
	"net"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
	"github.com/vgshost/core/internal/wire"
	"github.com/vgshost/core/pkg/token"
)

// Server accepts connections and dispatches one RESP command per request,
// per spec.md §5's "spawns one cooperative handler per accepted
// connection" scheduling model.
type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

// WithMetrics attaches a metrics sink to the underlying Service; met may be
// nil.
func (srv *Server) WithMetrics(met *metrics.Metrics) *Server {
	srv.svc.WithMetrics(met)
	return srv
}

// Serve accepts connections on ln until it returns an error (including
// ctx cancellation, which closes ln from the caller's side).
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

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)

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

		spanCtx, span := telemetry.StartSpan(reqCtx, "userservice."+fields.Verb)
		result, err := srv.svc.Dispatch(spanCtx, args)
		telemetry.RecordError(spanCtx, err)
		span.End()
		reply := encodeReply(result, err)
		if werr := reply.WriteTo(conn); werr != nil {
			return
		}
	}
}

// encodeReply renders a Dispatch result (or error) as a wire.Reply. The
// switch covers every return shape Service's methods produce; anything
// else is a programming error in a new command and becomes a 500.
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
	case token.CheckResult:
		return wire.Array{
			wire.Bulk(val.UserID),
			wire.Bulk(string(val.Type)),
			wire.Bulk(val.NewToken),
		}
	default:
		return wire.ErrReply(apperr.ToWire(apperr.New(apperr.Internal, "unencodable reply")))
	}
}
