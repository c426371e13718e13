package sessions

import (
	"sync"

	"github.com/ggoodman/hello-mcp-go/mcp"
)

var _ Session = (*StaticSession)(nil)

// StaticSession is an in-process Session whose negotiated state is filled in
// once initialize completes.
type StaticSession struct {
	id     string
	userID string

	mu              sync.RWMutex
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
}

// NewStaticSession returns a session with the given identity and no
// negotiated protocol version.
func NewStaticSession(id, userID string) *StaticSession {
	return &StaticSession{id: id, userID: userID}
}

func (s *StaticSession) SessionID() string {
	return s.id
}

func (s *StaticSession) UserID() string {
	return s.userID
}

func (s *StaticSession) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *StaticSession) ClientInfo() mcp.ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// Negotiate records the outcome of initialize. A repeated initialize
// overwrites the previous values.
func (s *StaticSession) Negotiate(protocolVersion string, client mcp.ImplementationInfo) {
	s.mu.Lock()
	s.protocolVersion = protocolVersion
	s.clientInfo = client
	s.mu.Unlock()
}
