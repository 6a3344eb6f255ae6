package session

import "time"

// ContainerRef is a weak reference to a runtime container. The container may
// be removed externally at any time; holders must validate it against the
// runtime before use.
type ContainerRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Session is the persisted execution context for one chat user.
type Session struct {
	UserID     string            `json:"user_id"`
	Container  *ContainerRef     `json:"container,omitempty"`
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env"`
	Revision   uint64            `json:"revision"`
	LastActive time.Time         `json:"last_active"`

	// ContainerStale is set when the runtime reported the referenced
	// container missing or stopped. Raw shell commands are refused until a
	// container-select succeeds.
	ContainerStale bool `json:"container_stale,omitempty"`
}

// New returns a fresh session for userID at revision 1.
func New(userID string) *Session {
	return &Session{
		UserID:     userID,
		WorkingDir: "/",
		Env:        map[string]string{},
		Revision:   1,
		LastActive: time.Now().UTC(),
	}
}

// Clone returns a deep copy, safe to mutate without affecting the original.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Container != nil {
		ref := *s.Container
		cp.Container = &ref
	}
	cp.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		cp.Env[k] = v
	}
	return &cp
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActive = now.UTC()
}
