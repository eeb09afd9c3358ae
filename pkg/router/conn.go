package router

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/logging"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
	"github.com/vgshost/core/internal/wire"
)

// Server accepts one connection per request, per spec.md §4.1's "A single
// connection accepts one command and optionally its payload; multi-line
// responses are terminated by connection close."
type Server struct {
	mux *Multiplexer
}

func NewServer(mux *Multiplexer) *Server {
	return &Server{mux: mux}
}

// WithMetrics attaches a metrics sink to the underlying Multiplexer; met
// may be nil.
func (srv *Server) WithMetrics(met *metrics.Metrics) *Server {
	srv.mux.WithMetrics(met)
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
	lr := wire.NewLineReader(bufio.NewReader(netConn))

	fields := &logging.Fields{Peer: peer}
	reqCtx := logging.Into(ctx, fields)

	reqLine, err := lr.ReadLine()
	if err != nil {
		return
	}
	fields.Verb = strings.Fields(reqLine)[0]

	spanCtx, span := telemetry.StartSpan(reqCtx, "router."+fields.Verb)
	defer span.End()

	lines, err := dispatch(spanCtx, srv.mux, reqLine, lr)
	telemetry.RecordError(spanCtx, err)
	if err != nil {
		wire.WriteLine(netConn, apperr.ToWire(err))
		return
	}
	for _, l := range lines {
		if werr := wire.WriteLine(netConn, l); werr != nil {
			return
		}
	}
}

// dispatch parses one request line (plus, for the S verb, its following
// talk body) and returns the full response as a slice of lines (no
// trailing terminator — the caller writes each line then closes).
func dispatch(ctx context.Context, mux *Multiplexer, reqLine string, lr *wire.LineReader) ([]string, error) {
	fields := strings.Fields(reqLine)
	if len(fields) == 0 {
		return nil, apperr.New(apperr.BadRequest, "empty command")
	}
	verb := strings.ToUpper(fields[0])
	rest := fields[1:]

	switch verb {
	case "LIST":
		summaries := mux.List(ctx)
		out := []string{fmt.Sprintf("200 OK, %d sessions", len(summaries))}
		for _, s := range summaries {
			out = append(out, s.FormatListRow())
		}
		return out, nil

	case "INFO":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "INFO id")
		}
		args, err := mux.Info(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return append([]string{"200 OK"}, args...), nil

	case "S":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "S id")
		}
		cmd, err := readTalkBody(lr)
		if err != nil {
			return nil, apperr.New(apperr.BadRequest, "missing command body")
		}
		reply, err := mux.Talk(ctx, rest[0], cmd)
		if err != nil {
			return nil, err
		}
		return append([]string{reply.Header}, reply.Body...), nil

	case "CLOSE":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "CLOSE id|-key")
		}
		ids, err := mux.Close(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return groupReply(ids), nil

	case "RESTART":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "RESTART id|-key")
		}
		ids, err := mux.Restart(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return groupReply(ids), nil

	case "SAVE":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "SAVE id|-key")
		}
		ids, err := mux.Save(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return groupReply(ids), nil

	case "SAVENN":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "SAVENN id|-key")
		}
		ids, err := mux.SaveNN(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return groupReply(ids), nil

	case "NEW":
		id, err := mux.NewSession(ctx, rest)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("201 %s Created", id)}, nil

	case "CONFIG":
		return append([]string{"200 OK"}, mux.ConfigLines()...), nil

	case "PING":
		return []string{"PONG"}, nil

	default:
		return nil, apperr.New(apperr.BadRequest, "unknown command "+strconv.Quote(verb))
	}
}

func groupReply(ids []string) []string {
	return append([]string{"200 OK"}, ids...)
}

// readTalkBody reads the command to relay to a child following an "S id"
// request line: a single line, or — when it begins with POST — that line
// plus every subsequent line up to (not including) a lone ".", joined with
// "\n", matching spec.md §4.1's "may be one line [...] or multi-line
// (POST …\n…\n.)".
func readTalkBody(lr *wire.LineReader) (string, error) {
	first, err := lr.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.ToUpper(first), "POST") {
		return first, nil
	}
	rest, err := lr.ReadMultiline()
	if err != nil {
		return "", err
	}
	return strings.Join(append([]string{first}, rest...), "\n"), nil
}
