package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/infrastructure/logging"
	"github.com/termgate/termgate/internal/infrastructure/monitoring"
)

// ContainerInspector reports whether a container still exists in the runtime.
// Eviction must distinguish "gone" from "runtime unreachable", so the error
// matters: on error the janitor leaves the session alone.
type ContainerInspector interface {
	ContainerExists(ctx context.Context, containerID string) (bool, error)
}

// ContainerRemover tears down a container when its session is evicted.
type ContainerRemover interface {
	RemoveContainer(ctx context.Context, containerID string) error
}

// Janitor periodically sweeps the store, evicting sessions that have been
// idle past the configured timeout and cleaning up their containers. It also
// drops sessions whose container vanished out from under them.
type Janitor struct {
	store       Store
	inspector   ContainerInspector
	remover     ContainerRemover
	idleTimeout time.Duration
	interval    time.Duration
	metrics     *monitoring.Metrics
	logger      *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// NewJanitor creates a janitor. remover may be nil when container teardown
// is handled elsewhere.
func NewJanitor(store Store, inspector ContainerInspector, remover ContainerRemover, idleTimeout, interval time.Duration, metrics *monitoring.Metrics, logger *logging.Logger) *Janitor {
	return &Janitor{
		store:       store,
		inspector:   inspector,
		remover:     remover,
		idleTimeout: idleTimeout,
		interval:    interval,
		metrics:     metrics,
		logger:      logger.Named("janitor"),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs an immediate sweep then loops until Stop is called. The startup
// sweep clears sessions left over from a previous process.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		defer close(j.done)

		j.Sweep(ctx)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Sweep(ctx)
			case <-j.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep walks every session once and evicts the expired and the orphaned.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now()
	var expired []*Session
	total := 0

	err := j.store.Scan(ctx, func(s *Session) bool {
		total++
		if j.expired(ctx, s, now) {
			expired = append(expired, s.Clone())
		}
		return true
	})
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			j.logger.Error("session sweep failed", zap.Error(err))
		}
		return
	}

	for _, s := range expired {
		j.evict(ctx, s)
	}
	if j.metrics != nil {
		j.metrics.SessionsActive.Set(float64(total - len(expired)))
	}
	if len(expired) > 0 {
		j.logger.Info("sweep evicted sessions", zap.Int("count", len(expired)))
	}
}

func (j *Janitor) expired(ctx context.Context, s *Session, now time.Time) bool {
	if j.idleTimeout > 0 && now.Sub(s.LastActive) > j.idleTimeout {
		return true
	}
	if s.Container != nil && j.inspector != nil {
		exists, err := j.inspector.ContainerExists(ctx, s.Container.ID)
		if err == nil && !exists {
			return true
		}
	}
	return false
}

func (j *Janitor) evict(ctx context.Context, s *Session) {
	if s.Container != nil && j.remover != nil {
		if err := j.remover.RemoveContainer(ctx, s.Container.ID); err != nil {
			j.logger.Warn("failed to remove container for evicted session",
				zap.String("user_id", s.UserID),
				zap.String("container_id", s.Container.ID),
				zap.Error(err),
			)
		}
	}
	if err := j.store.Delete(ctx, s.UserID); err != nil {
		j.logger.Warn("failed to delete evicted session",
			zap.String("user_id", s.UserID),
			zap.Error(err),
		)
		return
	}
	if j.metrics != nil {
		j.metrics.SessionsEvicted.Inc()
	}
	j.logger.Info("evicted session",
		zap.String("user_id", s.UserID),
		zap.Duration("idle", time.Since(s.LastActive)),
	)
}
