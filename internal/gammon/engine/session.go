package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Session is one interactive engine process.
type Session interface {
	// Send writes one command line.
	Send(cmd string) error
	// DrainUntilIdle collects output until nothing arrives for idle, the
	// context expires, or the process closes its side. Partial output is
	// returned alongside context and EOF errors.
	DrainUntilIdle(ctx context.Context, idle time.Duration) ([]byte, error)
	// Close runs the exit sequence and reaps the process.
	Close(ctx context.Context) error
}

// Spawner starts a Session.
type Spawner func(ctx context.Context) (Session, error)

// PTYSession drives a process attached to a pseudo-terminal.
type PTYSession struct {
	cmd  *exec.Cmd
	tty  *os.File
	mu   sync.Mutex
	out  chan []byte
	done chan struct{}
	quit chan struct{}
	once sync.Once

	waitErr error
}

// StartPTY spawns binary with args on a fresh pseudo-terminal.
func StartPTY(binary string, args ...string) (*PTYSession, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), "TERM=dumb")
	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 200, Cols: 250})
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	s := &PTYSession{
		cmd:  cmd,
		tty:  tty,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

func (s *PTYSession) readLoop() {
	defer close(s.out)
	buf := make([]byte, 4096)
	for {
		n, err := s.tty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.out <- chunk:
			case <-s.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *PTYSession) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.tty, cmd+"\n")
	return err
}

func (s *PTYSession) DrainUntilIdle(ctx context.Context, idle time.Duration) ([]byte, error) {
	return drain(ctx, s.out, idle)
}

// drain is shared with the in-memory sessions used by tests.
func drain(ctx context.Context, out <-chan []byte, idle time.Duration) ([]byte, error) {
	var buf []byte
	t := time.NewTimer(idle)
	defer t.Stop()
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return buf, io.EOF
			}
			buf = append(buf, chunk...)
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(idle)
		case <-t.C:
			return buf, nil
		case <-ctx.Done():
			return buf, ctx.Err()
		}
	}
}

// Close sends the exit sequence, waits for the process within ctx and kills it otherwise.
func (s *PTYSession) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		defer close(s.quit)
		_ = s.Send("exit")
		_ = s.Send("y")
		select {
		case <-s.done:
			err = s.waitErr
		case <-ctx.Done():
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			<-s.done
			err = fmt.Errorf("engine exit: %w", ctx.Err())
		}
		_ = s.tty.Close()
	})
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// a non-zero status after exit is not a failure of the session
		return nil
	}
	return err
}
