package ginserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"inquirydesk/internal/app/inquiries"
	"inquirydesk/internal/domain/inquiry"
	domainuser "inquirydesk/internal/domain/user"
	"inquirydesk/internal/infra/realtime"
)

// NewSocketHub builds the devserver room hub. Peers authenticate with the same bearer
// token as the REST API (header or "token" query); tokenless peers are guests identified
// by the guest email they present.
func NewSocketHub(svc *inquiries.Service, logger *slog.Logger) *realtime.Hub {
	hub := realtime.NewHub(realtime.HubHooks{}, logger)
	hub.Hooks = realtime.HubHooks{
		Authenticate: func(r *http.Request) (realtime.Identity, error) {
			token := extractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("token"))
			}
			if token == "" {
				email := strings.TrimSpace(r.Header.Get(inquiry.GuestEmailHeader))
				if email == "" {
					email = strings.TrimSpace(r.URL.Query().Get(inquiry.GuestEmailQuery))
				}
				return realtime.Identity{GuestEmail: email}, nil
			}
			p, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				return realtime.Identity{}, err
			}
			return realtime.Identity{UserID: p.UserID, Role: string(p.Role)}, nil
		},
		CanJoin: func(ctx context.Context, who realtime.Identity, room string) bool {
			return svc.CanJoin(ctx, principalOf(who), room)
		},
		OnFrame: func(ctx context.Context, peer *realtime.Peer, frame realtime.Frame) {
			if frame.Event != inquiry.EventMessageRead {
				return
			}
			var ev inquiry.MessageReadEvent
			if err := json.Unmarshal(frame.Data, &ev); err != nil {
				return
			}
			if !peer.InRoom(ev.ConversationID) {
				return
			}
			ack, err := svc.Acknowledge(ctx, principalOf(peer.Identity), ev)
			if err != nil {
				if logger != nil {
					logger.Warn("message_read rejected", "conversation_id", ev.ConversationID, "user_id", peer.Identity.UserID, "error", err)
				}
				return
			}
			hub.Broadcast(ev.ConversationID, inquiry.EventMessageReadAck, ack, peer)
		},
	}
	return hub
}

func principalOf(who realtime.Identity) inquiries.Principal {
	return inquiries.Principal{UserID: who.UserID, Role: domainuser.Role(who.Role), GuestEmail: who.GuestEmail}
}
