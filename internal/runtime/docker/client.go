package docker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/infrastructure/logging"
)

const (
	apiVersion         = "v1.43"
	defaultOutputLimit = 64 * 1024
	stopGraceSeconds   = 5
)

// Options configures a Client.
type Options struct {
	// Host is the engine endpoint: unix:///var/run/docker.sock or
	// tcp://127.0.0.1:2375.
	Host string
	// Shell is the interpreter used for ExecRequest.Command, e.g. /bin/sh.
	Shell string
	// OutputLimit bounds captured output per stream in bytes.
	OutputLimit int
}

// Client talks to one Docker engine. Control-plane calls go through resty;
// exec output is streamed over a plain http.Client sharing the same
// transport, since the multiplexed stream must be read incrementally.
type Client struct {
	rest        *resty.Client
	stream      *http.Client
	shell       string
	outputLimit int
	logger      *logging.Logger
}

// New creates a Client for the given engine endpoint.
func New(opts Options, logger *logging.Logger) (*Client, error) {
	transport, baseURL, err := transportFor(opts.Host)
	if err != nil {
		return nil, err
	}

	rest := resty.New().
		SetBaseURL(baseURL+"/"+apiVersion).
		SetTransport(transport).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "termgate/1.0")

	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	limit := opts.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	return &Client{
		rest:        rest,
		stream:      &http.Client{Transport: transport},
		shell:       shell,
		outputLimit: limit,
		logger:      logger.Named("docker"),
	}, nil
}

func transportFor(host string) (*http.Transport, string, error) {
	switch {
	case strings.HasPrefix(host, "unix://"):
		socketPath := strings.TrimPrefix(host, "unix://")
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		// Host part is a placeholder; the dialer ignores it
		return transport, "http://docker", nil
	case strings.HasPrefix(host, "tcp://"):
		addr := strings.TrimPrefix(host, "tcp://")
		return &http.Transport{}, "http://" + addr, nil
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		return &http.Transport{}, host, nil
	default:
		return nil, "", fmt.Errorf("unsupported docker host %q", host)
	}
}

// Ping verifies the engine is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/_ping")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: ping returned %d", ErrRuntimeUnavailable, resp.StatusCode())
	}
	return nil
}

type inspectResponse struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Running bool   `json:"Running"`
		Status  string `json:"Status"`
	} `json:"State"`
	Config struct {
		Image string `json:"Image"`
	} `json:"Config"`
}

// Inspect resolves a container by id or name.
func (c *Client) Inspect(ctx context.Context, nameOrID string) (*ContainerState, error) {
	var out inspectResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/containers/" + nameOrID + "/json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, nameOrID)
	case resp.IsError():
		return nil, fmt.Errorf("inspect %s: engine returned %d", nameOrID, resp.StatusCode())
	}
	return &ContainerState{
		ID:      out.ID,
		Name:    strings.TrimPrefix(out.Name, "/"),
		Image:   out.Config.Image,
		Running: out.State.Running,
		Status:  out.State.Status,
	}, nil
}

// ContainerExists reports whether the container is known to the engine.
func (c *Client) ContainerExists(ctx context.Context, nameOrID string) (bool, error) {
	_, err := c.Inspect(ctx, nameOrID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrContainerNotFound) {
		return false, nil
	}
	return false, err
}

// Create provisions and starts a container from spec, returning its id.
func (c *Client) Create(ctx context.Context, spec CreateSpec) (string, error) {
	cmd := spec.Cmd
	if len(cmd) == 0 {
		cmd = []string{"tail", "-f", "/dev/null"}
	}
	body := map[string]any{
		"Image":           spec.Image,
		"Cmd":             cmd,
		"NetworkDisabled": spec.NetworkDisabled,
		"HostConfig": map[string]any{
			"Memory":    spec.MemoryBytes,
			"CpuQuota":  spec.CPUQuota,
			"CpuPeriod": spec.CPUPeriod,
			"PidsLimit": spec.PidsLimit,
		},
	}

	var created struct {
		ID string `json:"Id"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("name", spec.Name).
		SetBody(body).
		SetResult(&created).
		Post("/containers/create")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create %s: engine returned %d: %s", spec.Name, resp.StatusCode(), resp.String())
	}

	startResp, err := c.rest.R().SetContext(ctx).Post("/containers/" + created.ID + "/start")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if startResp.IsError() && startResp.StatusCode() != http.StatusNotModified {
		return "", fmt.Errorf("start %s: engine returned %d", spec.Name, startResp.StatusCode())
	}

	c.logger.Info("container created",
		zap.String("name", spec.Name),
		zap.String("container_id", created.ID),
		zap.String("image", spec.Image),
	)
	return created.ID, nil
}

// Stop stops a container, tolerating one that is already stopped.
func (c *Client) Stop(ctx context.Context, nameOrID string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("t", fmt.Sprintf("%d", stopGraceSeconds)).
		Post("/containers/" + nameOrID + "/stop")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusNoContent, http.StatusNotModified:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrContainerNotFound, nameOrID)
	default:
		return fmt.Errorf("stop %s: engine returned %d", nameOrID, resp.StatusCode())
	}
}

// Remove force-removes a container.
func (c *Client) Remove(ctx context.Context, nameOrID string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("force", "true").
		Delete("/containers/" + nameOrID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("remove %s: engine returned %d", nameOrID, resp.StatusCode())
	}
}

// RemoveContainer stops then removes, for session eviction.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string) error {
	if err := c.Stop(ctx, nameOrID); err != nil && !errors.Is(err, ErrContainerNotFound) {
		c.logger.Warn("stop before remove failed", zap.String("container", nameOrID), zap.Error(err))
	}
	return c.Remove(ctx, nameOrID)
}

// DirExists checks a directory inside a running container.
func (c *Client) DirExists(ctx context.Context, containerID, path string) (bool, error) {
	res, err := c.Execute(ctx, ExecRequest{
		ContainerID: containerID,
		Command:     "test -d " + shellQuote(path),
		Timeout:     10 * time.Second,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
