// ABOUTME: MCP session state: bound identity, handshake state and activity timestamps
// ABOUTME: Each Session guards its mutable fields with its own mutex

package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/ewelink-gateway/internal/identity"
)

// State is the protocol handshake state of a session.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// MarshalJSON renders the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ClientInfo identifies the MCP client as reported in initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Session correlates HTTP exchanges with one identity and handshake state.
// Handlers receive a *Session for the duration of one request only.
type Session struct {
	id        string
	identity  identity.Identity
	createdAt time.Time

	mu                 sync.Mutex
	state              State
	initializeSeen     bool
	protocolVersion    string
	clientCapabilities json.RawMessage
	clientInfo         *ClientInfo
	lastActivity       time.Time
	requestCount       int64
}

func newSession(id string, ident identity.Identity, now time.Time) *Session {
	return &Session{
		id:           id,
		identity:     ident,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the opaque session identifier sent in Mcp-Session-Id.
func (s *Session) ID() string { return s.id }

// Identity returns the identity resolved when the session was created.
func (s *Session) Identity() identity.Identity { return s.identity }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordInitialize stores the client's initialize payload. It does not
// change the handshake state; a repeated initialize overwrites the values.
func (s *Session) RecordInitialize(protocolVersion string, capabilities json.RawMessage, info *ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initializeSeen = true
	s.protocolVersion = protocolVersion
	if len(capabilities) > 0 {
		s.clientCapabilities = append(json.RawMessage(nil), capabilities...)
	} else {
		s.clientCapabilities = nil
	}
	if info != nil {
		c := *info
		s.clientInfo = &c
	} else {
		s.clientInfo = nil
	}
}

// MarkInitialized completes the handshake if initialize was recorded.
// Reports whether the session is initialized afterwards.
func (s *Session) MarkInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initializeSeen {
		s.state = StateInitialized
	}
	return s.state == StateInitialized
}

// ProtocolVersion returns the negotiated protocol version, empty before initialize.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// LastActivity returns the time of the most recent touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.requestCount++
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Snapshot is a copy of a session's state safe to serialize.
type Snapshot struct {
	ID                 string          `json:"sessionId"`
	PrincipalID        string          `json:"principalId"`
	IdentityKind       identity.Kind   `json:"identityKind"`
	TenantID           string          `json:"tenantId,omitempty"`
	State              State           `json:"state"`
	ProtocolVersion    string          `json:"protocolVersion,omitempty"`
	ClientInfo         *ClientInfo     `json:"clientInfo,omitempty"`
	ClientCapabilities json.RawMessage `json:"clientCapabilities,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	LastActivityAt     time.Time       `json:"lastActivityAt"`
	RequestCount       int64           `json:"requestCount"`
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:              s.id,
		PrincipalID:     s.identity.PrincipalID(),
		IdentityKind:    s.identity.Kind(),
		TenantID:        s.identity.TenantID(),
		State:           s.state,
		ProtocolVersion: s.protocolVersion,
		CreatedAt:       s.createdAt,
		LastActivityAt:  s.lastActivity,
		RequestCount:    s.requestCount,
	}
	if s.clientInfo != nil {
		c := *s.clientInfo
		snap.ClientInfo = &c
	}
	if s.clientCapabilities != nil {
		snap.ClientCapabilities = append(json.RawMessage(nil), s.clientCapabilities...)
	}
	return snap
}
