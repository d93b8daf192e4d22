package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Daskott/guardian/colors"
	"github.com/Daskott/guardian/server/realtime"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// recipientOnly picks the recipient out of a family channel message.
// Messages without one are meant for every member.
type recipientOnly struct {
	RecipientProfileID uint `json:"recipient_profile_id"`
}

// familyStream upgrades to a websocket that relays the family channel to
// one member: sos alerts addressed to them plus the group wide updates.
func (s *Server) familyStream(rw http.ResponseWriter, r *http.Request) {
	group, ok := s.familyGroupFor(rw, r)
	if !ok {
		return
	}

	if !s.canViewFamily(r, group) {
		s.writeEnvelopeError(rw, http.StatusForbidden, "action is forbidden")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.broker.Subscribe(ctx, realtime.FamilyChannel(group.ID))
	if err != nil {
		s.writeEnvelopeError(rw, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// the upgrader already replied with an http error
		s.logg.Warnf(colors.Yellow("[family stream] ")+"upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	profileID := requestProfileID(r)
	s.logg.Infof(colors.Cyan("[family stream] ")+"profile=%v joined family=%v", profileID, group.ID)

	// reads only serve to notice the client going away & to get pongs
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.C:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			target := recipientOnly{}
			if err := json.Unmarshal(msg.Payload, &target); err != nil {
				continue
			}
			if target.RecipientProfileID != 0 && target.RecipientProfileID != profileID {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				return
			}
		}
	}
}
