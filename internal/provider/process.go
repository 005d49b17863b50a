package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"metatool/internal/async"
	"metatool/internal/logging"
)

// process manages a provider server child process: stdio pipes, stderr
// draining and exit observation.
type process struct {
	command string
	args    []string
	env     []string

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	logger   logging.Logger
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	waitDone chan error
}

func newProcess(command string, args []string, env map[string]string, logger logging.Logger) *process {
	p := &process{
		command: command,
		args:    args,
		logger:  logging.OrNop(logger),
	}
	for k, v := range env {
		p.env = append(p.env, fmt.Sprintf("%s=%s", k, v))
	}
	return p
}

func (p *process) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("process already running")
	}

	resolved, err := resolveExecutable(p.command)
	if err != nil {
		return err
	}

	p.stopChan = make(chan struct{})
	p.waitDone = make(chan error, 1)
	p.cmd = exec.CommandContext(ctx, resolved, p.args...)
	p.cmd.Env = p.env

	if p.stdin, err = p.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderr, err = p.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	p.running = true
	p.logger.Info("provider process started: %s (pid %d)", p.command, p.cmd.Process.Pid)

	async.Go(p.logger, "provider.stderr", p.drainStderr)
	async.Go(p.logger, "provider.wait", p.observeExit)
	return nil
}

func resolveExecutable(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", fmt.Errorf("command is required")
	}
	if strings.Contains(trimmed, "\x00") {
		return "", fmt.Errorf("command contains invalid characters")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("command not found: %w", err)
	}
	return resolved, nil
}

// stop closes stdin for a graceful exit, then kills after the timeout.
func (p *process) stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopChan := p.stopChan
	waitDone := p.waitDone
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	if stopChan != nil {
		close(stopChan)
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case err := <-waitDone:
		p.logger.Info("provider process exited: %v", err)
		return nil
	case <-time.After(timeout):
		p.logger.Warn("graceful shutdown timed out, killing process")
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill process: %w", err)
			}
		}
		return nil
	}
}

func (p *process) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *process) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stdin == nil {
		return fmt.Errorf("process not running")
	}
	n, err := p.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(data))
	}
	return nil
}

func (p *process) stdoutReader() io.Reader { return p.stdout }

func (p *process) drainStderr() {
	if p.stderr == nil {
		return
	}
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		select {
		case <-p.stopChan:
			return
		default:
			p.logger.Debug("[stderr] %s", scanner.Text())
		}
	}
}

func (p *process) observeExit() {
	if p.cmd == nil {
		return
	}
	err := p.cmd.Wait()

	select {
	case p.waitDone <- err:
	default:
	}

	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	if wasRunning {
		p.logger.Warn("provider process exited unexpectedly: %v", err)
	}
}
