package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"english-battle-service/internal/app"
	"english-battle-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.BattleService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.BattleService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	RoundNumber int    `json:"roundNumber"`
	Answer      string `json:"answer"`
	TimeMs      int    `json:"timeMs"`
}

type answerResult struct {
	RoundNumber        int    `json:"roundNumber"`
	Correct            bool   `json:"correct"`
	Points             int    `json:"points"`
	TotalScore         int    `json:"totalScore"`
	WaitingForOpponent bool   `json:"waitingForOpponent"`
	RoundCompleted     bool   `json:"roundCompleted"`
	RoundWinnerID      string `json:"roundWinnerId,omitempty"`
	BattleCompleted    bool   `json:"battleCompleted"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// errorCode distinguishes soft idempotency rejections from real validation
// failures, so clients can tell "duplicate ignored" from "malformed".
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, domain.ErrBattleUnavailable):
		return "battle_unavailable"
	case errors.Is(err, domain.ErrRoundNotActive):
		return "round_not_active"
	default:
		return ""
	}
}

// ServeWS upgrades HTTP requests to websockets, runs matchmaking for the
// connecting player and wires the connection into the battle use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	battleType := domain.BattleType(r.URL.Query().Get("type"))
	level, err := strconv.Atoi(r.URL.Query().Get("level"))
	if userID == "" || err != nil {
		http.Error(w, "missing userId or level", http.StatusBadRequest)
		return
	}
	if battleType == "" {
		battleType = domain.BattleTypeCasual
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	match, err := h.service.FindMatch(r.Context(), userID, battleType, level)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	battleID := match.Battle.ID

	events, cancel, err := h.service.Subscribe(battleID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: event.Type, Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "matched", Payload: match.Battle}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			outcome, err := h.service.SubmitAnswer(r.Context(), battleID, payload.RoundNumber, userID, payload.Answer, payload.TimeMs)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: errorCode(err)}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: answerResult{
				RoundNumber:        outcome.RoundNumber,
				Correct:            outcome.Correct,
				Points:             outcome.Points,
				TotalScore:         outcome.TotalScore,
				WaitingForOpponent: outcome.WaitingForOpponent,
				RoundCompleted:     outcome.RoundCompleted,
				RoundWinnerID:      outcome.RoundWinnerID,
				BattleCompleted:    outcome.BattleCompleted,
			}}
		case "cancel":
			if err := h.service.CancelBattle(r.Context(), battleID, userID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: errorCode(err)}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}
