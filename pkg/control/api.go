// Package control implements hivemesh's local control API: a
// JSON-over-local-socket request/response protocol a UI collaborator
// drives to operate one node.
package control

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/WebFirstLanguage/hivemesh/pkg/channel"
	"github.com/WebFirstLanguage/hivemesh/pkg/constants"
	"github.com/WebFirstLanguage/hivemesh/pkg/node"
	"github.com/WebFirstLanguage/hivemesh/pkg/transport"
)

// Request is one control API call.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response answers a Request. Exactly one of Result/Error is set. Code
// carries one of the constants.ErrCode* values when the error is one of the
// discriminated API-level outcomes the caller might want to branch on
// instead of pattern-matching the message text; it's left zero for
// conditions with no corresponding code (parameter validation, or failures
// that have no numbered kind).
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   int         `json:"code,omitempty"`
}

// errResponse builds an error Response, filling in Code when err is one of
// the discriminated outcomes named in spec.md §7.
func errResponse(id string, err error) Response {
	return Response{ID: id, Error: err.Error(), Code: errorCode(err)}
}

func errorCode(err error) int {
	switch err.(type) {
	case *channel.ErrNotOwner:
		return constants.ErrCodeNotOwner
	case *channel.ErrExists:
		return constants.ErrCodeExists
	case *channel.ErrInvalidID:
		return constants.ErrCodeInvalidID
	case *transport.ErrNotConnected:
		return constants.ErrCodeNotConnected
	default:
		return 0
	}
}

// Server dispatches decoded requests to a node.
type Server struct {
	mu   sync.RWMutex
	node *node.Node
}

// NewServer wraps n.
func NewServer(n *node.Node) *Server {
	return &Server{node: n}
}

// Serve accepts connections on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var req Request
			if err := decoder.Decode(&req); err != nil {
				return
			}
			if err := encoder.Encode(s.handleRequest(req)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case "GetInfo":
		return s.handleGetInfo(req)
	case "channels.join":
		return s.handleChannelsJoin(req)
	case "channels.leave":
		return s.handleChannelsLeave(req)
	case "channels.create":
		return s.handleChannelsCreate(req)
	case "channels.invite":
		return s.handleChannelsInvite(req)
	case "messages.send":
		return s.handleMessagesSend(req)
	case "messages.history":
		return s.handleMessagesHistory(req)
	case "peers":
		return s.handlePeers(req)
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}
}

func (s *Server) handleGetInfo(req Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.node.GetIdentityInfo()
	return Response{
		ID: req.ID,
		Result: map[string]interface{}{
			"node_id":        info.NodeID,
			"display_name":   info.DisplayName,
			"encryption_pub": info.EncryptionPub,
			"channels":       s.node.SubscribedChannels(),
		},
	}
}

func stringParam(req Request, key string) (string, bool) {
	v, ok := req.Params[key].(string)
	return v, ok
}

func (s *Server) handleChannelsJoin(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	s.node.JoinChannel(channelID)
	return Response{ID: req.ID, Result: map[string]interface{}{"joined": channelID}}
}

func (s *Server) handleChannelsLeave(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	if err := s.node.LeaveChannel(channelID); err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"left": channelID}}
}

func (s *Server) handleChannelsCreate(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	kind, _ := stringParam(req, "kind")
	if kind == "" {
		kind = "public"
	}
	if err := s.node.CreateChannel(channelID, kind); err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"created": channelID, "kind": kind}}
}

func (s *Server) handleChannelsInvite(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	targetNodeID, ok := stringParam(req, "target_node_id")
	if !ok || targetNodeID == "" {
		return Response{ID: req.ID, Error: "target_node_id parameter is required"}
	}
	targetPubHex, ok := stringParam(req, "target_encryption_pub")
	if !ok || targetPubHex == "" {
		return Response{ID: req.ID, Error: "target_encryption_pub parameter is required"}
	}

	pubBytes, err := hex.DecodeString(targetPubHex)
	if err != nil || len(pubBytes) != 32 {
		return Response{ID: req.ID, Error: "target_encryption_pub must be 32 hex-encoded bytes"}
	}
	var targetPub [32]byte
	copy(targetPub[:], pubBytes)

	if err := s.node.InvitePeerToChannel(channelID, targetNodeID, &targetPub); err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"invited": targetNodeID, "channel_id": channelID}}
}

func (s *Server) handleMessagesSend(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	content, ok := stringParam(req, "content")
	if !ok {
		return Response{ID: req.ID, Error: "content parameter is required"}
	}

	msgID, err := s.node.BroadcastMessage(content, channelID)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"msg_id": msgID}}
}

func (s *Server) handleMessagesHistory(req Request) Response {
	channelID, ok := stringParam(req, "channel_id")
	if !ok || channelID == "" {
		return Response{ID: req.ID, Error: "channel_id parameter is required"}
	}
	limit := 50
	if v, ok := req.Params["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	history, err := s.node.LoadChannelHistory(channelID, limit)
	if err != nil {
		return errResponse(req.ID, err)
	}

	messages := make([]map[string]interface{}, len(history))
	for i, m := range history {
		messages[i] = map[string]interface{}{
			"msg_id":     m.MsgID,
			"channel_id": m.ChannelID,
			"sender_id":  m.SenderID,
			"timestamp":  m.Timestamp,
			"content":    m.Content,
		}
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"messages": messages}}
}

func (s *Server) handlePeers(req Request) Response {
	return Response{
		ID: req.ID,
		Result: map[string]interface{}{
			"peer_count": s.node.PeerCount(),
		},
	}
}
