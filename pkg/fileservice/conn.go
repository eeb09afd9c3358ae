package fileservice

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vgshost/core/internal/apperr"
	"github.com/vgshost/core/internal/metrics"
	"github.com/vgshost/core/internal/telemetry"
)

// Conn is one connection's dispatch state: the shared Service plus the
// per-connection acting user, set by the single-shot USER verb of
// SPEC_FULL.md §3 ("sets the acting user ID for the remainder of the
// connection [...] pre-auth trust boundary — the multiplexer or a trusted
// proxy is expected to have authenticated the caller already").
type Conn struct {
	svc     *Service
	user    string
	metrics *metrics.Metrics
}

func NewConn(svc *Service) *Conn {
	return &Conn{svc: svc}
}

// WithMetrics attaches a metrics sink; met may be nil.
func (c *Conn) WithMetrics(met *metrics.Metrics) *Conn {
	c.metrics = met
	return c
}

// Dispatch routes one already-tokenized wire command to the corresponding
// Service method, per spec.md §4.3/§6, and records per-verb counters.
func (c *Conn) Dispatch(ctx context.Context, args []string) (result any, err error) {
	if len(args) == 0 {
		return nil, apperr.New(apperr.BadRequest, "empty command")
	}
	verb := strings.ToUpper(args[0])
	defer func() { c.metrics.RecordFileOp(verb, err) }()

	spanCtx, span := telemetry.StartSpan(ctx, "fileservice."+verb)
	defer span.End()
	defer func() { telemetry.RecordError(spanCtx, err) }()

	result, err = c.dispatch(spanCtx, verb, args[1:])
	if err == nil {
		switch verb {
		case "GET":
			if s, ok := result.(string); ok {
				c.metrics.RecordFileBytes("read", len(s))
			}
		case "PUT":
			if len(args) == 3 {
				c.metrics.RecordFileBytes("write", len(args[2]))
			}
		}
	}
	return result, err
}

func (c *Conn) dispatch(ctx context.Context, verb string, rest []string) (any, error) {
	switch verb {
	case "PING":
		return "PONG", nil

	case "HELP":
		return helpText, nil

	case "USER":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "USER user")
		}
		c.user = rest[0]
		return true, nil

	case "STAT":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "STAT path")
		}
		return c.svc.Stat(ctx, rest[0], c.user)

	case "LS":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "LS path")
		}
		return c.svc.Ls(ctx, rest[0], c.user)

	case "GET":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "GET path")
		}
		return c.svc.Get(ctx, rest[0], c.user)

	case "PUT":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "PUT path content")
		}
		return nil, c.svc.Put(ctx, rest[0], rest[1], c.user)

	case "CP":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "CP src dest")
		}
		return nil, c.svc.Cp(ctx, rest[0], rest[1], c.user)

	case "RM":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "RM path")
		}
		return nil, c.svc.Rm(ctx, rest[0], c.user)

	case "RMDIR":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "RMDIR path")
		}
		return nil, c.svc.Rmdir(ctx, rest[0], c.user)

	case "MKDIR":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "MKDIR path")
		}
		return nil, c.svc.Mkdir(ctx, rest[0], c.user)

	case "MKDIRAS":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "MKDIRAS path owner")
		}
		return nil, c.svc.MkdirAs(ctx, rest[0], rest[1], c.user)

	case "MKDIRHIER":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "MKDIRHIER path")
		}
		return nil, c.svc.MkdirHier(ctx, rest[0], c.user)

	case "FORGET":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "FORGET path")
		}
		return nil, c.svc.Forget(ctx, rest[0])

	case "FTEST":
		if len(rest) == 0 {
			return nil, apperr.New(apperr.BadRequest, "FTEST files…")
		}
		return c.svc.Ftest(ctx, rest, c.user), nil

	case "USAGE":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "USAGE path")
		}
		return c.svc.Usage(ctx, rest[0], c.user)

	case "PROPGET":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "PROPGET path key")
		}
		v, ok, err := c.svc.PropGet(ctx, rest[0], rest[1], c.user)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return v, nil

	case "PROPSET":
		if len(rest) != 3 {
			return nil, apperr.New(apperr.BadRequest, "PROPSET path key value")
		}
		return nil, c.svc.PropSet(ctx, rest[0], rest[1], rest[2], c.user)

	case "SETPERM":
		if len(rest) != 3 {
			return nil, apperr.New(apperr.BadRequest, "SETPERM path user perms")
		}
		return nil, c.svc.SetPerm(ctx, rest[0], rest[1], rest[2], c.user)

	case "LSPERM":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "LSPERM path")
		}
		return c.svc.LsPerm(ctx, rest[0], c.user)

	case "STATREG":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "STATREG path")
		}
		reg, err := c.svc.StatReg(ctx, rest[0], c.user)
		if err != nil {
			return nil, err
		}
		if reg == nil {
			return nil, nil
		}
		return RenderRegEntry(RegEntry{Path: rest[0], Reg: reg}), nil

	case "LSREG":
		return c.dispatchLsReg(ctx, rest)

	case "STATGAME":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "STATGAME path")
		}
		overview, err := c.svc.StatGame(ctx, rest[0], c.user)
		if err != nil {
			return nil, err
		}
		if overview == nil {
			return nil, nil
		}
		props, err := c.propsForPath(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		return RenderGameEntry(GameEntry{Path: rest[0], Overview: overview, Properties: props}), nil

	case "LSGAME":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "LSGAME path")
		}
		entries, err := c.svc.LsGame(ctx, rest[0], c.user)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = RenderGameEntry(e)
		}
		return out, nil

	case "SNAPCREATE":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "SNAPCREATE name")
		}
		return nil, c.svc.SnapCreate(ctx, rest[0])

	case "SNAPCP":
		if len(rest) != 2 {
			return nil, apperr.New(apperr.BadRequest, "SNAPCP snapshot path")
		}
		return nil, c.svc.SnapCp(ctx, rest[0], rest[1], c.user)

	case "SNAPRM":
		if len(rest) != 1 {
			return nil, apperr.New(apperr.BadRequest, "SNAPRM name")
		}
		return nil, c.svc.SnapRm(ctx, rest[0])

	case "SNAPLS":
		if len(rest) != 0 {
			return nil, apperr.New(apperr.BadRequest, "SNAPLS")
		}
		return c.svc.SnapLs(ctx)

	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unknown command %q", verb))
	}
}

// propsForPath fetches the copied-property set for STATGAME's record
// without a second directory resolution beyond what StatGame already did
// (re-resolving is cheap: the directory is cached after the first read).
func (c *Conn) propsForPath(ctx context.Context, path string) (map[string]string, error) {
	dir, err := c.svc.resolveDirectoryForList(ctx, path, c.user)
	if err != nil {
		return nil, err
	}
	return directoryProperties(ctx, dir)
}

// dispatchLsReg parses LSREG's "[-UNIQ] [-KEY id]" trailing flags
// (SPEC_FULL.md §3), per the wire table's "LSREG [-UNIQ] [-KEY id]".
func (c *Conn) dispatchLsReg(ctx context.Context, rest []string) (any, error) {
	if len(rest) == 0 {
		return nil, apperr.New(apperr.BadRequest, "LSREG path [-UNIQ] [-KEY id]")
	}
	path := rest[0]
	var opts LsRegOptions

	i := 1
	for i < len(rest) {
		switch strings.ToUpper(rest[i]) {
		case "-UNIQ":
			opts.Unique = true
			i++
		case "-KEY":
			if i+1 >= len(rest) {
				return nil, apperr.New(apperr.BadRequest, "-KEY requires an id")
			}
			id, err := strconv.Atoi(rest[i+1])
			if err != nil {
				return nil, apperr.New(apperr.BadRequest, "-KEY id must be numeric")
			}
			opts.HasKey = true
			opts.KeyFilter = id
			i += 2
		default:
			return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unexpected argument %q", rest[i]))
		}
	}

	entries, err := c.svc.LsReg(ctx, path, c.user, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = RenderRegEntry(e)
	}
	return out, nil
}

const helpText = `STAT path
LS path
USER user
GET path
PUT path content
CP src dest
RM path
RMDIR path
MKDIR path
MKDIRAS path owner
MKDIRHIER path
FORGET path
FTEST files…
USAGE path
PROPGET path key
PROPSET path key value
SETPERM path user perms
LSPERM path
STATREG path
LSREG path [-UNIQ] [-KEY id]
STATGAME path
LSGAME path
SNAPCREATE name
SNAPCP snapshot path
SNAPRM name
SNAPLS
PING
HELP`
