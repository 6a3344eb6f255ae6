package docker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termgate/termgate/internal/infrastructure/logging"
)

// fakeEngine is a scriptable stand-in for the Docker Engine API.
type fakeEngine struct {
	mu sync.Mutex

	containers map[string]inspectResponse
	lastCreate map[string]any

	// script for the next execs, keyed by order of creation
	execs      []scriptedExec
	nextExec   int
	execsByID  map[string]*scriptedExec
	execSerial int
}

type scriptedExec struct {
	id       string
	cmd      []string
	exitCode int
	running  bool
	stdout   string
	stderr   string
	// delay before the output stream completes
	delay time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: map[string]inspectResponse{},
		execsByID:  map[string]*scriptedExec{},
	}
}

func (f *fakeEngine) addContainer(id, name string, running bool) {
	var resp inspectResponse
	resp.ID = id
	resp.Name = "/" + name
	resp.State.Running = running
	resp.State.Status = map[bool]string{true: "running", false: "exited"}[running]
	resp.Config.Image = "alpine:latest"
	f.containers[id] = resp
}

func (f *fakeEngine) script(e scriptedExec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, e)
}

func (f *fakeEngine) createdCommands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cmds [][]string
	for _, e := range f.execsByID {
		cmds = append(cmds, e.cmd)
	}
	return cmds
}

func (f *fakeEngine) lastCreateBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFrame(w http.ResponseWriter, stream byte, payload string) {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	w.Write(header)
	w.Write([]byte(payload))
}

func (f *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1.43/_ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /v1.43/containers/{id}/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		c, ok := f.containers[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, c)
	})

	mux.HandleFunc("POST /v1.43/containers/create", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		id := "created-" + r.URL.Query().Get("name")
		f.mu.Lock()
		f.lastCreate = body
		f.addContainer(id, r.URL.Query().Get("name"), true)
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"Id": id})
	})

	mux.HandleFunc("POST /v1.43/containers/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1.43/containers/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		_, ok := f.containers[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /v1.43/containers/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.containers, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1.43/containers/{id}/exec", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		c, ok := f.containers[r.PathValue("id")]
		if !ok {
			f.mu.Unlock()
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !c.State.Running {
			f.mu.Unlock()
			w.WriteHeader(http.StatusConflict)
			return
		}

		var req execCreateRequest
		json.NewDecoder(r.Body).Decode(&req)

		var e scriptedExec
		if f.nextExec < len(f.execs) {
			e = f.execs[f.nextExec]
			f.nextExec++
		}
		f.execSerial++
		e.id = fmt.Sprintf("exec-%d", f.execSerial)
		e.cmd = req.Cmd
		f.execsByID[e.id] = &e
		f.mu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]string{"Id": e.id})
	})

	mux.HandleFunc("POST /v1.43/exec/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		e, ok := f.execsByID[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
		if e.stdout != "" {
			writeFrame(w, 1, e.stdout)
		}
		if e.stderr != "" {
			writeFrame(w, 2, e.stderr)
		}
		if e.delay > 0 {
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
			select {
			case <-time.After(e.delay):
			case <-r.Context().Done():
				return
			}
		}
		f.mu.Lock()
		e.running = false
		f.mu.Unlock()
	})

	mux.HandleFunc("GET /v1.43/exec/{id}/json", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		e, ok := f.execsByID[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, execInspectResponse{
			ExitCode: e.exitCode,
			Running:  e.running,
		})
	})

	return mux
}

func testClient(t *testing.T, f *fakeEngine, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	opts.Host = server.URL
	c, err := New(opts, logging.NewNop())
	require.NoError(t, err)
	return c
}

func TestPing(t *testing.T) {
	c := testClient(t, newFakeEngine(), Options{})
	assert.NoError(t, c.Ping(t.Context()))
}

func TestInspect(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	c := testClient(t, f, Options{})

	state, err := c.Inspect(t.Context(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "web-1", state.Name)
	assert.True(t, state.Running)

	_, err = c.Inspect(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrContainerNotFound)

	exists, err := c.ContainerExists(t.Context(), "abc123")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = c.ContainerExists(t.Context(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExecute(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{stdout: "hello\n", stderr: "warn\n", exitCode: 0})
	c := testClient(t, f, Options{Shell: "/bin/bash"})

	res, err := c.Execute(t.Context(), ExecRequest{
		ContainerID: "abc123",
		Command:     "echo hello",
		WorkingDir:  "/srv",
		Env:         map[string]string{"TERM": "xterm"},
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, "warn\n", string(res.Stderr))
	assert.False(t, res.Truncated())
	assert.False(t, res.TimedOut)

	cmds := f.createdCommands()
	require.Len(t, cmds, 1)
	require.Len(t, cmds[0], 3)
	assert.Equal(t, "/bin/bash", cmds[0][0])
	assert.Equal(t, "-c", cmds[0][1])
	assert.True(t, strings.HasPrefix(cmds[0][2], "echo $$ >/tmp/.termgate."))
	assert.Contains(t, cmds[0][2], "exec /bin/bash -c 'echo hello'")
}

func TestExecuteNonZeroExit(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{stderr: "no such file\n", exitCode: 2})
	c := testClient(t, f, Options{})

	res, err := c.Execute(t.Context(), ExecRequest{ContainerID: "abc123", Command: "ls /nope"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "no such file\n", string(res.Stderr))
}

func TestExecuteTruncatesOutput(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{stdout: strings.Repeat("x", 4096)})
	c := testClient(t, f, Options{OutputLimit: 1024})

	res, err := c.Execute(t.Context(), ExecRequest{ContainerID: "abc123", Command: "yes"})
	require.NoError(t, err)
	assert.Len(t, res.Stdout, 1024)
	assert.True(t, res.StdoutTruncated)
	assert.False(t, res.StderrTruncated)
	assert.True(t, res.Truncated())
}

func TestExecuteContainerGone(t *testing.T) {
	c := testClient(t, newFakeEngine(), Options{})
	_, err := c.Execute(t.Context(), ExecRequest{ContainerID: "ghost", Command: "ls"})
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestExecuteContainerStopped(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", false)
	c := testClient(t, f, Options{})

	_, err := c.Execute(t.Context(), ExecRequest{ContainerID: "abc123", Command: "ls"})
	assert.ErrorIs(t, err, ErrContainerNotRunning)
}

func TestExecuteTimeout(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{stdout: "partial", delay: 5 * time.Second, running: true})
	f.script(scriptedExec{exitCode: 0}) // the kill exec
	c := testClient(t, f, Options{})

	res, err := c.Execute(t.Context(), ExecRequest{
		ContainerID: "abc123",
		Command:     "sleep 600",
		Timeout:     100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.KillFailed)
	assert.Equal(t, "partial", string(res.Stdout))

	// The kill must target the pid the wrapper recorded, not a host pid.
	var pidFile, killCmd string
	for _, cmd := range f.createdCommands() {
		if len(cmd) != 3 {
			continue
		}
		if rest, ok := strings.CutPrefix(cmd[2], "echo $$ >"); ok {
			pidFile, _, _ = strings.Cut(rest, ";")
		}
		if strings.Contains(cmd[2], "kill -9") {
			killCmd = cmd[2]
		}
	}
	require.NotEmpty(t, pidFile)
	require.NotEmpty(t, killCmd, "expected a kill exec for the timed-out command")
	assert.Contains(t, killCmd, pidFile)
	assert.Contains(t, killCmd, `kill -9 "$pid"`)
}

func TestExecuteTimeoutKillFailureReported(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{delay: 5 * time.Second, running: true})
	f.script(scriptedExec{exitCode: 1}) // kill exec: target not delivered
	c := testClient(t, f, Options{})

	res, err := c.Execute(t.Context(), ExecRequest{
		ContainerID: "abc123",
		Command:     "sleep 600",
		Timeout:     100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.True(t, res.KillFailed)
}

func TestCreateStopRemove(t *testing.T) {
	f := newFakeEngine()
	c := testClient(t, f, Options{})

	id, err := c.Create(t.Context(), CreateSpec{
		Name:        "termgate_alice_ab12",
		Image:       "alpine:latest",
		MemoryBytes: 256 << 20,
		CPUQuota:    50000,
		CPUPeriod:   100000,
		PidsLimit:   64,
	})
	require.NoError(t, err)
	assert.Equal(t, "created-termgate_alice_ab12", id)

	require.NoError(t, c.Stop(t.Context(), id))
	require.NoError(t, c.Remove(t.Context(), id))

	_, err = c.Inspect(t.Context(), id)
	assert.ErrorIs(t, err, ErrContainerNotFound)

	assert.ErrorIs(t, c.Stop(t.Context(), id), ErrContainerNotFound)
	assert.NoError(t, c.Remove(t.Context(), id)) // idempotent
}

func TestCreateNetworkDisabled(t *testing.T) {
	f := newFakeEngine()
	c := testClient(t, f, Options{})

	_, err := c.Create(t.Context(), CreateSpec{
		Name:            "termgate_alice_cd34",
		Image:           "alpine:latest",
		NetworkDisabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, true, f.lastCreateBody()["NetworkDisabled"])

	_, err = c.Create(t.Context(), CreateSpec{Name: "termgate_bob_ef56", Image: "alpine:latest"})
	require.NoError(t, err)
	assert.Equal(t, false, f.lastCreateBody()["NetworkDisabled"])
}

func TestDirExists(t *testing.T) {
	f := newFakeEngine()
	f.addContainer("abc123", "web-1", true)
	f.script(scriptedExec{exitCode: 0})
	f.script(scriptedExec{exitCode: 1})
	c := testClient(t, f, Options{})

	ok, err := c.DirExists(t.Context(), "abc123", "/var/log")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.DirExists(t.Context(), "abc123", "/nope")
	require.NoError(t, err)
	assert.False(t, ok)

	cmds := f.createdCommands()
	require.Len(t, cmds, 2)
	for _, cmd := range cmds {
		assert.Contains(t, cmd[2], "test -d '")
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/var/log'`, shellQuote("/var/log"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
