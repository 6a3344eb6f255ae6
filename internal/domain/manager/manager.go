// Package manager owns the command lifecycle: resolve the user's session,
// take their execution slot, run or apply the command, and commit session
// mutations with an optimistic revision check.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/chat"
	"github.com/termgate/termgate/internal/domain/command"
	"github.com/termgate/termgate/internal/domain/events"
	"github.com/termgate/termgate/internal/domain/gate"
	"github.com/termgate/termgate/internal/domain/policy"
	"github.com/termgate/termgate/internal/domain/session"
	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/infrastructure/monitoring"
	"github.com/termgate/termgate/internal/runtime/docker"
	"github.com/termgate/termgate/internal/shared/id"
)

// Runtime is the container runtime surface the manager needs.
type Runtime interface {
	Inspect(ctx context.Context, nameOrID string) (*docker.ContainerState, error)
	Execute(ctx context.Context, req docker.ExecRequest) (*docker.ExecResult, error)
	Create(ctx context.Context, spec docker.CreateSpec) (string, error)
	Stop(ctx context.Context, nameOrID string) error
	Remove(ctx context.Context, nameOrID string) error
	DirExists(ctx context.Context, containerID, path string) (bool, error)
}

// Outcomes recorded in metrics and events.
const (
	OutcomeApplied    = "applied"
	OutcomeBusy       = "busy"
	OutcomeConflict   = "conflict"
	OutcomeTimeout    = "timeout"
	OutcomeFailed     = "failed"
	OutcomeRefused    = "refused"
	OutcomeRejected   = "rejected"
	OutcomeStoreError = "store_error"
)

// Config bounds execution and provisioning.
type Config struct {
	ExecTimeout   time.Duration
	OutputLimit   int
	MaxReplyBytes int

	DefaultImage    string
	MemoryLimitMB   int64
	CPUQuota        int64
	CPUPeriod       int64
	PidsLimit       int64
	NetworkDisabled bool
}

// Manager coordinates session store, gate, policy and runtime for each
// inbound message.
type Manager struct {
	store   session.Store
	gate    *gate.Gate
	runtime Runtime
	policy  policy.Policy
	hub     *events.Hub
	metrics *monitoring.Metrics
	logger  *logging.Logger
	cfg     Config
}

// New creates a Manager. hub and metrics may be nil.
func New(store session.Store, g *gate.Gate, rt Runtime, pol policy.Policy, hub *events.Hub, metrics *monitoring.Metrics, logger *logging.Logger, cfg Config) *Manager {
	if pol == nil {
		pol = policy.AllowAll{}
	}
	return &Manager{
		store:   store,
		gate:    g,
		runtime: rt,
		policy:  pol,
		hub:     hub,
		metrics: metrics,
		logger:  logger.Named("manager"),
		cfg:     cfg,
	}
}

// outcome pairs a reply with how it should be recorded.
type outcome struct {
	text     string
	kind     string
	exitCode int
	// conflict marks a revision conflict; Handle retries the whole cycle
	// once before giving up.
	conflict  bool
	truncated bool
}

// Handle processes one delivery and returns the reply to send. It never
// returns an error: every failure mode has a user-facing rendering.
func (m *Manager) Handle(ctx context.Context, msg chat.Inbound) chat.Reply {
	start := time.Now()
	cmdID := id.NewCommandID()
	log := m.logger.With(
		zap.String("command_id", cmdID.String()),
		zap.String("user_id", msg.UserID),
		zap.String("message_id", msg.MessageID),
	)

	cmd, ok := command.Parse(msg.Text)
	if !ok {
		return m.finish(msg, cmdID, "unknown", outcome{
			text: "could not parse that; try /use <name>, /new [image], /cd <dir>, /env K=V, /reset, or a shell line",
			kind: OutcomeRejected,
		}, start)
	}
	verb := string(cmd.Verb)

	if !m.gate.Acquire(msg.UserID) {
		if m.metrics != nil {
			m.metrics.BusyRejections.Inc()
		}
		log.Info("rejected while busy", zap.String("verb", verb))
		return m.finish(msg, cmdID, verb, outcome{
			text: "still running your previous command; try again when it finishes",
			kind: OutcomeBusy,
		}, start)
	}
	defer m.gate.Release(msg.UserID)

	out := m.process(ctx, log, msg, cmd)
	if out.conflict {
		if m.metrics != nil {
			m.metrics.RevisionConflicts.Inc()
		}
		log.Info("revision conflict, retrying", zap.String("verb", verb))
		out = m.process(ctx, log, msg, cmd)
		if out.conflict {
			out = outcome{
				text: "your session changed while the command ran; nothing was saved, please retry",
				kind: OutcomeConflict,
			}
		}
	}
	return m.finish(msg, cmdID, verb, out, start)
}

func (m *Manager) finish(msg chat.Inbound, cmdID id.CommandID, verb string, out outcome, start time.Time) chat.Reply {
	duration := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordCommand(verb, out.kind, duration)
	}
	if m.hub != nil {
		m.hub.Publish(events.Event{
			Type:       "command",
			CommandID:  cmdID.String(),
			UserID:     msg.UserID,
			Verb:       verb,
			Outcome:    out.kind,
			ExitCode:   out.exitCode,
			DurationMS: duration.Milliseconds(),
			At:         time.Now().UTC(),
		})
	}
	text, clipped := clampReply(out.text, m.cfg.MaxReplyBytes)
	return chat.Reply{
		UserID:    msg.UserID,
		MessageID: msg.MessageID,
		Text:      text,
		Truncated: out.truncated || clipped,
	}
}

// process runs one resolve-execute-commit cycle.
func (m *Manager) process(ctx context.Context, log *logging.Logger, msg chat.Inbound, cmd command.Command) outcome {
	sess, err := m.store.CreateIfAbsent(ctx, msg.UserID)
	if err != nil {
		if m.metrics != nil {
			m.metrics.StoreErrors.Inc()
		}
		log.Error("session store unavailable", zap.Error(err))
		return outcome{
			text: "session store is unavailable; your command was not run",
			kind: OutcomeStoreError,
		}
	}

	// Snapshot at lock time. Everything below works on the copy and commits
	// against the revision read here.
	snap := sess.Clone()
	expected := snap.Revision

	switch cmd.Verb {
	case command.VerbShell:
		return m.runShell(ctx, log, snap, expected, cmd.Raw)
	case command.VerbChdir:
		return m.changeDir(ctx, snap, expected, cmd.Arg)
	case command.VerbSetEnv:
		return m.setEnv(ctx, snap, expected, cmd.Name, cmd.Value)
	case command.VerbSelect:
		return m.selectContainer(ctx, snap, expected, cmd.Arg)
	case command.VerbProvision:
		return m.provision(ctx, log, snap, expected, cmd.Arg)
	case command.VerbStopContainer:
		return m.stopContainer(ctx, log, snap, expected)
	case command.VerbReset:
		return m.reset(ctx, snap)
	default:
		return outcome{text: "unsupported command", kind: OutcomeRejected}
	}
}

// commit persists snap against the revision read at resolve time.
func (m *Manager) commit(ctx context.Context, snap *session.Session, expected uint64) *outcome {
	snap.Touch(time.Now().UTC())
	err := m.store.PutIfRevision(ctx, snap, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrRevisionConflict):
		return &outcome{conflict: true}
	case errors.Is(err, session.ErrNotFound):
		// Session evicted mid-command; treat like a conflict so the retry
		// recreates it.
		return &outcome{conflict: true}
	default:
		if m.metrics != nil {
			m.metrics.StoreErrors.Inc()
		}
		return &outcome{
			text: "session store is unavailable; the command ran but its result was not saved",
			kind: OutcomeStoreError,
		}
	}
}

func (m *Manager) runShell(ctx context.Context, log *logging.Logger, snap *session.Session, expected uint64, line string) outcome {
	if snap.Container == nil {
		return outcome{
			text: "no container selected; /use <name> to attach or /new [image] to create one",
			kind: OutcomeRejected,
		}
	}
	if snap.ContainerStale {
		return outcome{
			text: fmt.Sprintf("container %s is gone; /use <name> or /new [image] to continue", snap.Container.Name),
			kind: OutcomeRejected,
		}
	}
	if err := m.policy.Check(snap.UserID, line); err != nil {
		if m.metrics != nil {
			m.metrics.PolicyRefusals.Inc()
		}
		log.Warn("command refused by policy", zap.String("command", line))
		return outcome{text: "that command is not allowed here", kind: OutcomeRefused}
	}

	res, err := m.runtime.Execute(ctx, docker.ExecRequest{
		ContainerID: snap.Container.ID,
		Command:     line,
		WorkingDir:  snap.WorkingDir,
		Env:         snap.Env,
		Timeout:     m.cfg.ExecTimeout,
		OutputLimit: m.cfg.OutputLimit,
	})
	if err != nil {
		return m.execFailure(ctx, log, snap, expected, err)
	}

	if res.TimedOut {
		// No session mutation for a command whose effects are unknown
		text := fmt.Sprintf("command exceeded the %s limit and was killed", m.cfg.ExecTimeout)
		if res.KillFailed {
			text = fmt.Sprintf("command exceeded the %s limit and could not be killed; it may still be running", m.cfg.ExecTimeout)
		}
		if partial := formatPartialOutput(res); partial != "" {
			text += "\n" + partial
		}
		return outcome{text: text, kind: OutcomeTimeout, exitCode: -1, truncated: res.Truncated()}
	}

	if m.metrics != nil && res.Truncated() {
		m.metrics.OutputTruncations.Inc()
	}
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{
		text:      formatExecOutput(res),
		kind:      OutcomeApplied,
		exitCode:  res.ExitCode,
		truncated: res.Truncated(),
	}
}

// execFailure handles adapter-level errors. A vanished or stopped container
// marks the session stale; this is the one failure path that writes session
// state, and a concurrent write wins over the marker.
func (m *Manager) execFailure(ctx context.Context, log *logging.Logger, snap *session.Session, expected uint64, err error) outcome {
	switch {
	case errors.Is(err, docker.ErrContainerNotFound), errors.Is(err, docker.ErrContainerNotRunning):
		if m.metrics != nil {
			m.metrics.RecordRuntimeError("container_gone")
		}
		snap.ContainerStale = true
		if c := m.commit(ctx, snap, expected); c != nil && c.kind == OutcomeStoreError {
			log.Warn("failed to persist stale marker")
		}
		return outcome{
			text: fmt.Sprintf("container %s is not available; /use <name> or /new [image] to continue", snap.Container.Name),
			kind: OutcomeFailed,
		}
	default:
		if m.metrics != nil {
			m.metrics.RecordRuntimeError("exec")
		}
		log.Error("execution failed", zap.Error(err))
		return outcome{text: "could not run that command; the runtime reported an error", kind: OutcomeFailed}
	}
}

func (m *Manager) changeDir(ctx context.Context, snap *session.Session, expected uint64, target string) outcome {
	if snap.Container == nil || snap.ContainerStale {
		return outcome{
			text: "no usable container; /use <name> or /new [image] first",
			kind: OutcomeRejected,
		}
	}

	resolved := target
	if !path.IsAbs(resolved) {
		resolved = path.Join(snap.WorkingDir, resolved)
	}
	resolved = path.Clean(resolved)

	if resolved != "/" {
		exists, err := m.runtime.DirExists(ctx, snap.Container.ID, resolved)
		if err != nil {
			return m.execFailure(ctx, m.logger, snap, expected, err)
		}
		if !exists {
			return outcome{
				text: fmt.Sprintf("cd: %s: no such directory", resolved),
				kind: OutcomeRejected,
			}
		}
	}

	snap.WorkingDir = resolved
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{text: resolved, kind: OutcomeApplied}
}

func (m *Manager) setEnv(ctx context.Context, snap *session.Session, expected uint64, name, value string) outcome {
	if snap.Env == nil {
		snap.Env = map[string]string{}
	}
	snap.Env[name] = value
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{text: name + "=" + value, kind: OutcomeApplied}
}

func (m *Manager) selectContainer(ctx context.Context, snap *session.Session, expected uint64, nameOrID string) outcome {
	state, err := m.runtime.Inspect(ctx, nameOrID)
	switch {
	case errors.Is(err, docker.ErrContainerNotFound):
		return outcome{
			text: fmt.Sprintf("no container named %s", nameOrID),
			kind: OutcomeRejected,
		}
	case err != nil:
		if m.metrics != nil {
			m.metrics.RecordRuntimeError("inspect")
		}
		return outcome{text: "could not reach the container runtime", kind: OutcomeFailed}
	case !state.Running:
		return outcome{
			text: fmt.Sprintf("container %s exists but is not running", state.Name),
			kind: OutcomeRejected,
		}
	}

	snap.Container = &session.ContainerRef{ID: state.ID, Name: state.Name}
	snap.WorkingDir = "/"
	snap.ContainerStale = false
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{
		text: fmt.Sprintf("attached to %s (%s)", state.Name, state.Image),
		kind: OutcomeApplied,
	}
}

func (m *Manager) provision(ctx context.Context, log *logging.Logger, snap *session.Session, expected uint64, image string) outcome {
	if image == "" {
		image = m.cfg.DefaultImage
	}
	name := containerName(snap.UserID)

	containerID, err := m.runtime.Create(ctx, docker.CreateSpec{
		Name:            name,
		Image:           image,
		MemoryBytes:     m.cfg.MemoryLimitMB << 20,
		CPUQuota:        m.cfg.CPUQuota,
		CPUPeriod:       m.cfg.CPUPeriod,
		PidsLimit:       m.cfg.PidsLimit,
		NetworkDisabled: m.cfg.NetworkDisabled,
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordRuntimeError("create")
		}
		log.Error("container provisioning failed", zap.String("image", image), zap.Error(err))
		return outcome{
			text: fmt.Sprintf("could not create a container from %s", image),
			kind: OutcomeFailed,
		}
	}

	// The old container is ours to clean up; losing it is tolerable
	if old := snap.Container; old != nil && !snap.ContainerStale {
		m.teardown(ctx, log, old.ID)
	}

	snap.Container = &session.ContainerRef{ID: containerID, Name: name}
	snap.WorkingDir = "/"
	snap.ContainerStale = false
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{
		text: fmt.Sprintf("created %s from %s and attached", name, image),
		kind: OutcomeApplied,
	}
}

func (m *Manager) stopContainer(ctx context.Context, log *logging.Logger, snap *session.Session, expected uint64) outcome {
	if snap.Container == nil {
		return outcome{text: "no container to stop", kind: OutcomeRejected}
	}
	name := snap.Container.Name
	m.teardown(ctx, log, snap.Container.ID)

	snap.Container = nil
	snap.ContainerStale = false
	if c := m.commit(ctx, snap, expected); c != nil {
		return *c
	}
	return outcome{text: fmt.Sprintf("stopped and removed %s", name), kind: OutcomeApplied}
}

func (m *Manager) reset(ctx context.Context, snap *session.Session) outcome {
	if snap.Container != nil && !snap.ContainerStale {
		m.teardown(ctx, m.logger, snap.Container.ID)
	}
	if err := m.store.Delete(ctx, snap.UserID); err != nil {
		if m.metrics != nil {
			m.metrics.StoreErrors.Inc()
		}
		return outcome{text: "could not reset the session; store unavailable", kind: OutcomeStoreError}
	}
	return outcome{text: "session reset; next command starts fresh", kind: OutcomeApplied}
}

func (m *Manager) teardown(ctx context.Context, log *logging.Logger, containerID string) {
	if err := m.runtime.Stop(ctx, containerID); err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
		log.Warn("failed to stop container", zap.String("container_id", containerID), zap.Error(err))
	}
	if err := m.runtime.Remove(ctx, containerID); err != nil {
		log.Warn("failed to remove container", zap.String("container_id", containerID), zap.Error(err))
	}
}

// containerName builds a unique, runtime-safe name for a user's container.
func containerName(userID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, userID)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "termgate_" + sanitized + "_" + suffix
}
