package discovery

import "testing"

func TestParseTXT(t *testing.T) {
	nodeID, version := parseTXT([]string{"node_id=abcdef", "protocol_version=1"})
	if nodeID != "abcdef" {
		t.Errorf("nodeID = %q, want %q", nodeID, "abcdef")
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
}

func TestParseTXTMissingFields(t *testing.T) {
	nodeID, version := parseTXT([]string{"some_other_field=x"})
	if nodeID != "" {
		t.Errorf("nodeID = %q, want empty", nodeID)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestParseTXTMalformedEntry(t *testing.T) {
	nodeID, version := parseTXT([]string{"no-equals-sign", "node_id=xyz"})
	if nodeID != "xyz" {
		t.Errorf("nodeID = %q, want %q", nodeID, "xyz")
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}
}

func TestNewServiceChannelsOpen(t *testing.T) {
	svc := New("self-node-id", 1)
	if svc.Appeared() == nil {
		t.Error("Appeared channel should not be nil")
	}
	if svc.Disappeared() == nil {
		t.Error("Disappeared channel should not be nil")
	}
}
