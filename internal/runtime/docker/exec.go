package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const killGrace = 5 * time.Second

type execCreateRequest struct {
	AttachStdout bool     `json:"AttachStdout"`
	AttachStderr bool     `json:"AttachStderr"`
	Tty          bool     `json:"Tty"`
	WorkingDir   string   `json:"WorkingDir,omitempty"`
	Env          []string `json:"Env,omitempty"`
	Cmd          []string `json:"Cmd"`
}

type execInspectResponse struct {
	ExitCode int  `json:"ExitCode"`
	Running  bool `json:"Running"`
}

// Execute runs one shell line in a running container, capturing bounded
// output. The command is wrapped in the configured shell so pipes, globs and
// redirects behave as they would at a terminal. The wrapper records the shell
// pid in a file inside the container; exec-inspect reports pids in the host
// namespace, which are useless for an in-container kill.
//
// A command that outlives req.Timeout is abandoned with TimedOut set and a
// best-effort SIGKILL sent to its process; output captured up to that point
// is returned.
func (c *Client) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}
	limit := req.OutputLimit
	if limit <= 0 {
		limit = c.outputLimit
	}

	pidFile := fmt.Sprintf("/tmp/.termgate.%s.pid", uuid.NewString()[:8])
	wrapped := req
	wrapped.Command = fmt.Sprintf("echo $$ >%s; exec %s -c %s",
		pidFile, c.shell, shellQuote(req.Command))

	execID, err := c.execCreate(ctx, wrapped)
	if err != nil {
		return nil, err
	}

	stdout := newCapture(limit)
	stderr := newCapture(limit)

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	streamErr := c.execStart(runCtx, execID, stdout, stderr)
	duration := time.Since(started)

	result := &ExecResult{
		Stdout:          stdout.buf,
		Stderr:          stderr.buf,
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
		Duration:        duration,
	}

	if streamErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.ExitCode = -1
			result.KillFailed = !c.killExec(execID, req.ContainerID, pidFile)
			return result, nil
		}
		return nil, fmt.Errorf("%w: exec stream: %v", ErrRuntimeUnavailable, streamErr)
	}

	inspect, err := c.execInspect(ctx, execID)
	if err != nil {
		return nil, err
	}
	result.ExitCode = inspect.ExitCode
	return result, nil
}

func (c *Client) execCreate(ctx context.Context, req ExecRequest) (string, error) {
	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	var created struct {
		ID string `json:"Id"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(execCreateRequest{
			AttachStdout: true,
			AttachStderr: true,
			WorkingDir:   req.WorkingDir,
			Env:          env,
			Cmd:          []string{c.shell, "-c", req.Command},
		}).
		SetResult(&created).
		Post("/containers/" + req.ContainerID + "/exec")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusCreated:
		return created.ID, nil
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, req.ContainerID)
	case http.StatusConflict:
		return "", fmt.Errorf("%w: %s", ErrContainerNotRunning, req.ContainerID)
	default:
		return "", fmt.Errorf("exec create: engine returned %d", resp.StatusCode())
	}
}

// execStart attaches to the exec instance and demuxes its output until the
// process exits or ctx expires. Uses the raw http client: the body must be
// streamed, not buffered.
func (c *Client) execStart(ctx context.Context, execID string, stdout, stderr *capture) error {
	body, err := json.Marshal(map[string]bool{"Detach": false, "Tty": false})
	if err != nil {
		return err
	}

	url := c.rest.BaseURL + "/exec/" + execID + "/start"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exec start: engine returned %d", resp.StatusCode)
	}
	return demux(resp.Body, stdout, stderr)
}

func (c *Client) execInspect(ctx context.Context, execID string) (*execInspectResponse, error) {
	var out execInspectResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/exec/" + execID + "/json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("exec inspect: engine returned %d", resp.StatusCode())
	}
	return &out, nil
}

// killExec force-kills a timed-out exec's process. The engine offers no
// direct way to stop an exec instance, so this runs a second exec that reads
// the pid the command wrapper recorded and kills it inside the container's
// own pid namespace. Reports whether the kill was delivered, judged by the
// kill exec's own exit code.
func (c *Client) killExec(execID, containerID, pidFile string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), killGrace)
	defer cancel()

	inspect, err := c.execInspect(ctx, execID)
	if err != nil {
		c.logger.Warn("could not inspect timed-out exec",
			zap.String("container_id", containerID),
			zap.Error(err),
		)
		return false
	}
	if !inspect.Running {
		// Already exited, nothing to kill
		return true
	}

	killID, err := c.execCreate(ctx, ExecRequest{
		ContainerID: containerID,
		Command:     fmt.Sprintf(`pid=$(cat %s 2>/dev/null); rm -f %s; kill -9 "$pid"`, pidFile, pidFile),
	})
	if err != nil {
		c.logger.Warn("failed to create kill exec",
			zap.String("container_id", containerID),
			zap.Error(err),
		)
		return false
	}

	if err := c.execStart(ctx, killID, newCapture(1024), newCapture(1024)); err != nil {
		c.logger.Warn("failed to kill timed-out command",
			zap.String("container_id", containerID),
			zap.Error(err),
		)
		return false
	}

	killed, err := c.execInspect(ctx, killID)
	if err != nil {
		c.logger.Warn("could not inspect kill exec",
			zap.String("container_id", containerID),
			zap.Error(err),
		)
		return false
	}
	if killed.ExitCode != 0 {
		c.logger.Warn("kill delivered but target survived",
			zap.String("container_id", containerID),
			zap.Int("exit_code", killed.ExitCode),
		)
		return false
	}
	return true
}
