package server

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/gofiber/contrib/websocket"

	"casino/internal/crash"
)

type wsMessage struct {
	Type          string   `json:"type"`
	Username      string   `json:"username"`
	AvatarURL     string   `json:"avatar_url"`
	BetAmount     float64  `json:"bet_amount"`
	AutoCashoutAt *float64 `json:"auto_cashout_at"`
	PlayerID      string   `json:"player_id"`
}

type wsReply struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error *APIError   `json:"error,omitempty"`
}

// handleWSMessage turns one client frame into its reply. ok is false for
// frames that get no answer.
func (s *FiberServer) handleWSMessage(raw []byte) (reply wsReply, ok bool) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wsReply{Type: "error", Error: &APIError{
			Error: "Invalid message", Code: CODE_INVALID_REQUEST, Message: "Invalid message",
		}}, true
	}

	switch msg.Type {
	case "join":
		username := strings.TrimSpace(msg.Username)
		if username == "" {
			return wsReply{Type: "join_result", Error: &APIError{
				Error: "Username is required", Code: CODE_INVALID_REQUEST, Message: "Username is required",
			}}, true
		}
		res, err := s.manager.Join(crash.JoinRequest{
			Username:      username,
			AvatarURL:     msg.AvatarURL,
			BetAmount:     msg.BetAmount,
			AutoCashoutAt: msg.AutoCashoutAt,
		})
		return resultReply("join_result", res, err), true

	case "cashout":
		res, err := s.manager.Cashout(msg.PlayerID)
		return resultReply("cashout_result", res, err), true

	case "ping":
		return wsReply{Type: "pong"}, true
	}
	return wsReply{}, false
}

func resultReply(typ string, data interface{}, err error) wsReply {
	if err != nil {
		_, body := apiError(err)
		return wsReply{Type: typ, Error: &body}
	}
	return wsReply{Type: typ, Data: data}
}

// gameWebSocketHandler streams round events and accepts join, cashout and
// ping frames. All writes happen on one goroutine.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	client := "ws:" + conn.RemoteAddr().String()
	log.Printf("[WS] New connection from %s", client)

	feed, err := subscribeFeed(s.manager, client, STREAM_BUFFER_SIZE)
	if err != nil {
		log.Printf("[WS] Subscribe failed for %s: %v", client, err)
		conn.Close()
		return
	}
	defer feed.Close()

	replies := make(chan wsReply, 16)
	quit := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			var out interface{}
			select {
			case ev := <-feed.events:
				out = ev
			case r := <-replies:
				out = r
			case <-feed.done:
				log.Printf("[WS] Client %s fell behind, closing", client)
				conn.Close()
				return
			case <-quit:
				return
			}
			if err := conn.WriteJSON(out); err != nil {
				log.Printf("[WS] Write error for %s: %v", client, err)
				conn.Close()
				return
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for %s: %v", client, err)
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply, ok := s.handleWSMessage(message)
		if !ok {
			continue
		}
		select {
		case replies <- reply:
		case <-writerDone:
		}
	}

	close(quit)
	<-writerDone
}
