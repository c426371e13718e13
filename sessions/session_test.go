package sessions

import (
	"sync"
	"testing"

	"github.com/ggoodman/hello-mcp-go/mcp"
)

func TestStaticSession_Negotiate(t *testing.T) {
	s := NewStaticSession("sess-1", "alice")
	if s.SessionID() != "sess-1" || s.UserID() != "alice" {
		t.Fatalf("unexpected identity %q/%q", s.SessionID(), s.UserID())
	}
	if s.ProtocolVersion() != "" {
		t.Fatalf("expected empty protocol version before initialize, got %q", s.ProtocolVersion())
	}

	s.Negotiate(mcp.LatestProtocolVersion, mcp.ImplementationInfo{Name: "client", Version: "1"})
	if s.ProtocolVersion() != mcp.LatestProtocolVersion {
		t.Fatalf("protocol version %q", s.ProtocolVersion())
	}
	if s.ClientInfo().Name != "client" {
		t.Fatalf("client info %+v", s.ClientInfo())
	}

	s.Negotiate("2025-03-26", mcp.ImplementationInfo{Name: "other"})
	if s.ProtocolVersion() != "2025-03-26" || s.ClientInfo().Name != "other" {
		t.Fatalf("expected repeated initialize to overwrite, got %q %+v", s.ProtocolVersion(), s.ClientInfo())
	}
}

func TestStaticSession_ConcurrentAccess(t *testing.T) {
	s := NewStaticSession("sess-1", "alice")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Negotiate(mcp.LatestProtocolVersion, mcp.ImplementationInfo{Name: "c"})
		}()
		go func() {
			defer wg.Done()
			_ = s.ProtocolVersion()
			_ = s.ClientInfo()
		}()
	}
	wg.Wait()
	if s.ProtocolVersion() != mcp.LatestProtocolVersion {
		t.Fatalf("protocol version %q", s.ProtocolVersion())
	}
}
