package control

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/node"
)

func newTestServer(t *testing.T) (*Server, *node.Node) {
	t.Helper()
	dir := t.TempDir()
	n, err := node.New(node.Config{
		ProfilePath: filepath.Join(dir, "identity.json"),
		DisplayName: "Alice",
		DBPath:      filepath.Join(dir, "hive.db"),
	})
	if err != nil {
		t.Fatalf("node.New failed: %v", err)
	}
	if err := n.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("node.Start failed: %v", err)
	}
	t.Cleanup(func() { n.Stop() })

	return NewServer(n), n
}

func dialServer(t *testing.T, srv *Server) (net.Conn, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go srv.Serve(ctx, listener)

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		listener.Close()
		cancel()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		listener.Close()
		cancel()
	}
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("encode request failed: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return resp
}

func TestGetInfo(t *testing.T) {
	srv, n := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	resp := roundTrip(t, conn, Request{Method: "GetInfo", ID: "1"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is not a map: %#v", resp.Result)
	}
	if result["node_id"] != n.GetIdentityInfo().NodeID {
		t.Errorf("node_id mismatch: %v", result["node_id"])
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	resp := roundTrip(t, conn, Request{Method: "bogus", ID: "2"})
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestChannelsCreateJoinLeave(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	resp := roundTrip(t, conn, Request{
		Method: "channels.create",
		ID:     "3",
		Params: map[string]interface{}{"channel_id": "#random", "kind": "public"},
	})
	if resp.Error != "" {
		t.Fatalf("create failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, Request{
		Method: "channels.join",
		ID:     "3a",
		Params: map[string]interface{}{"channel_id": "#dev"},
	})
	if resp.Error != "" {
		t.Fatalf("join failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, Request{
		Method: "channels.leave",
		ID:     "4",
		Params: map[string]interface{}{"channel_id": constants.GeneralChannel},
	})
	if resp.Error == "" {
		t.Fatal("expected an error leaving #general")
	}
}

func TestChannelsInviteUnconnectedTargetReturnsNotConnectedCode(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	resp := roundTrip(t, conn, Request{
		Method: "channels.create",
		ID:     "7",
		Params: map[string]interface{}{"channel_id": "#secret", "kind": "private"},
	})
	if resp.Error != "" {
		t.Fatalf("create failed: %s", resp.Error)
	}

	targetPub := make([]byte, 32)
	resp = roundTrip(t, conn, Request{
		Method: "channels.invite",
		ID:     "8",
		Params: map[string]interface{}{
			"channel_id":            "#secret",
			"target_node_id":        "unconnected-node",
			"target_encryption_pub": hex.EncodeToString(targetPub),
		},
	})
	if resp.Error == "" {
		t.Fatal("expected an error inviting a peer with no open connection")
	}
	if resp.Code != constants.ErrCodeNotConnected {
		t.Errorf("code = %d, want %d (NotConnected)", resp.Code, constants.ErrCodeNotConnected)
	}
}

func TestChannelsCreateDuplicateReturnsExistsCode(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	params := map[string]interface{}{"channel_id": "#random", "kind": "public"}
	resp := roundTrip(t, conn, Request{Method: "channels.create", ID: "9", Params: params})
	if resp.Error != "" {
		t.Fatalf("first create failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, Request{Method: "channels.create", ID: "10", Params: params})
	if resp.Error == "" {
		t.Fatal("expected an error recreating an existing channel")
	}
	if resp.Code != constants.ErrCodeExists {
		t.Errorf("code = %d, want %d (Exists)", resp.Code, constants.ErrCodeExists)
	}
}

func TestMessagesSendAndHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, closeAll := dialServer(t, srv)
	defer closeAll()

	resp := roundTrip(t, conn, Request{
		Method: "messages.send",
		ID:     "5",
		Params: map[string]interface{}{"channel_id": constants.GeneralChannel, "content": "hello"},
	})
	if resp.Error != "" {
		t.Fatalf("send failed: %s", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["msg_id"] == "" {
		t.Fatal("expected a non-empty msg_id")
	}

	resp = roundTrip(t, conn, Request{
		Method: "messages.history",
		ID:     "6",
		Params: map[string]interface{}{"channel_id": constants.GeneralChannel},
	})
	if resp.Error != "" {
		t.Fatalf("history failed: %s", resp.Error)
	}
	historyResult := resp.Result.(map[string]interface{})
	messages, ok := historyResult["messages"].([]interface{})
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one message in history, got %#v", historyResult["messages"])
	}
}
