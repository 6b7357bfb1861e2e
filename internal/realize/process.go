package realize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

type stdioReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioReadWriteCloser) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioReadWriteCloser) Write(p []byte) (int, error) { return s.writer.Write(p) }

func (s *stdioReadWriteCloser) Close() error {
	werr := s.writer.Close()
	rerr := s.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Solver is a running solver subprocess.
type Solver struct {
	*Client
	cmd *exec.Cmd
}

// StartSolver launches command and connects to it. The solver's stderr is
// passed through.
func StartSolver(ctx context.Context, command string, args []string, config ClientConfig) (*Solver, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSolverNotFound, command)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	slog.Info("synthesis solver started", "command", command, "pid", cmd.Process.Pid)

	rwc := &stdioReadWriteCloser{reader: stdout, writer: stdin}
	return &Solver{Client: NewClient(ctx, rwc, config), cmd: cmd}, nil
}

// Stop asks the solver to shut down, then closes the pipes and waits for it.
// A solver that does not exit within grace is killed.
func (s *Solver) Stop(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("solver shutdown request failed", "error", err)
	}
	s.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		s.cmd.Process.Kill()
		return <-done
	}
}
