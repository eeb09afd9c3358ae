package router

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vgshost/core/internal/wire"
)

// FileServiceNotifier is the FileNotifier spec.md §4.1's save-notify step
// calls: it dials the file service and issues FORGET for the saved
// session's directory, per "Callers pass the saved directory's path; the
// call's outcome is never surfaced to the client that triggered the save."
type FileServiceNotifier struct {
	Addr    string
	Timeout time.Duration
}

// NewFileServiceNotifier builds a notifier dialing addr, the ROUTER.FILENOTIFY
// host:port of spec.md §6.
func NewFileServiceNotifier(addr string) *FileServiceNotifier {
	return &FileServiceNotifier{Addr: addr, Timeout: 5 * time.Second}
}

func (n *FileServiceNotifier) ForgetDirectory(ctx context.Context, path string) error {
	dialer := net.Dialer{Timeout: n.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", n.Addr)
	if err != nil {
		return fmt.Errorf("notify: dial %s: %w", n.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(n.Timeout))
	}

	if err := wire.WriteCommand(conn, []string{"FORGET", path}); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	if _, err := wire.ReadReply(bufio.NewReader(conn)); err != nil {
		return fmt.Errorf("notify: reply: %w", err)
	}
	return nil
}
