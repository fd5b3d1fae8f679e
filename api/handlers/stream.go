package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/api"
	"github.com/linesmerrill/police-cad-dispatch/dispatch"
	"github.com/linesmerrill/police-cad-dispatch/models"
	"github.com/linesmerrill/police-cad-dispatch/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// MessageSnapshot is the stream message type carrying a full listing
const MessageSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame sent to a websocket client
type StreamMessage struct {
	Type   string        `json:"type"`
	Seq    uint64        `json:"seq"`
	Call   *models.Call  `json:"call,omitempty"`
	CallID string        `json:"callId,omitempty"`
	Calls  []models.Call `json:"calls,omitempty"`
}

// Stream serves realtime sessions over websockets
type Stream struct {
	Coordinator *dispatch.Coordinator
	Feed        realtime.Feed
	Tickets     *api.TicketIssuer
}

type ticketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TicketHandler issues the short lived ticket a client presents when opening
// the agency stream
func (s Stream) TicketHandler(w http.ResponseWriter, r *http.Request) {
	agencyID := mux.Vars(r)["agency_id"]
	userID := api.UserID(r)
	if err := s.Coordinator.Authorize(r.Context(), userID, agencyID); err != nil {
		writeDispatchError(w, r, err)
		return
	}

	ticket, expires, err := s.Tickets.Issue(userID, agencyID)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticketResponse{Ticket: ticket, ExpiresAt: expires})
}

// StreamHandler upgrades to a websocket, sends the agency snapshot and then
// every change until the client goes away
func (s Stream) StreamHandler(w http.ResponseWriter, r *http.Request) {
	agencyID := mux.Vars(r)["agency_id"]
	claims, err := s.Tickets.Verify(r.URL.Query().Get("ticket"), agencyID)
	if err != nil {
		zap.S().Infow("stream rejected", "agency", agencyID, "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	userID := claims.Subject
	session, err := realtime.Open(ctx, s.Coordinator, s.Feed, userID, agencyID, realtime.WithSessionID(claims.ID))
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	defer session.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	zap.S().Infow("stream opened",
		"agency", agencyID,
		"user", userID,
		"session", session.ID())

	go readPump(conn, cancel)
	go pingPump(ctx, conn)

	if err := writeSnapshot(conn, session); err != nil {
		return
	}
	for call, kind := range session.Stream(ctx) {
		if err := writeChange(conn, session, call, kind); err != nil {
			zap.S().Debugw("stream write failed", "session", session.ID(), "error", err)
			break
		}
	}

	if err := session.Err(); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, dispatch.Message(err)),
			time.Now().Add(writeWait))
	}
	zap.S().Infow("stream closed", "agency", agencyID, "session", session.ID())
}

func writeSnapshot(conn *websocket.Conn, session *realtime.Session) error {
	return writeMessage(conn, StreamMessage{
		Type:  MessageSnapshot,
		Seq:   session.Subscription().LastSeenEventSeq,
		Calls: session.Snapshot(),
	})
}

func writeChange(conn *websocket.Conn, session *realtime.Session, call models.Call, kind models.ChangeKind) error {
	msg := StreamMessage{Type: string(kind), Seq: session.Subscription().LastSeenEventSeq}
	switch kind {
	case models.ChangeDeleted:
		msg.CallID = call.ID
	case models.ChangeResync:
		if err := writeMessage(conn, msg); err != nil {
			return err
		}
		return writeSnapshot(conn, session)
	default:
		msg.Call = &call
		msg.CallID = call.ID
	}
	return writeMessage(conn, msg)
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump discards client frames and cancels the stream once the connection
// is gone
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				zap.S().Debugw("stream read ended", "error", err)
			}
			return
		}
	}
}

func pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
