package conn

import (
	"encoding/json"

	"github.com/telechat/telechat/internal/wire"
	"go.uber.org/zap"
)

// decodeFrame parses one inbound frame into ordered events. A frame is a
// JSON array of tagged events. Unknown discriminants and undecodable
// events are logged and skipped without losing the rest of the frame;
// a malformed frame is dropped entirely. Decoding never closes the
// connection.
func decodeFrame(data []byte, logger *zap.Logger) []Event {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		logger.Warn("dropping malformed frame", zap.Error(err))
		return nil
	}

	var events []Event
	for _, item := range items {
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(item, &tag); err != nil {
			logger.Warn("dropping undecodable event", zap.Error(err))
			continue
		}

		switch tag.Type {
		case "message":
			var env struct {
				Message *wire.Message `json:"message"`
			}
			if err := json.Unmarshal(item, &env); err != nil || env.Message == nil || env.Message.ID == "" {
				logger.Warn("dropping invalid message event")
				continue
			}
			events = append(events, Event{
				Kind:    KindMessage,
				Message: env.Message.ToStoreMessage(),
				Sender:  env.Message.SenderSnapshot(),
			})

		case "join_chat":
			var env struct {
				ChatID string `json:"chat_id"`
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal(item, &env); err != nil || env.ChatID == "" || env.UserID == "" {
				logger.Warn("dropping invalid join_chat event")
				continue
			}
			events = append(events, Event{
				Kind:       KindMembership,
				Membership: &Membership{ChatID: env.ChatID, UserID: env.UserID, Raw: item},
			})

		case "error":
			var env struct {
				Message   string `json:"message"`
				Code      string `json:"code"`
				Retryable *bool  `json:"retryable"`
			}
			if err := json.Unmarshal(item, &env); err != nil {
				logger.Warn("dropping invalid error event", zap.Error(err))
				continue
			}
			fault := &Fault{Message: env.Message, Code: env.Code, Retryable: true}
			if fault.Message == "" {
				fault.Message = "server error"
			}
			if fault.Code == "" {
				fault.Code = "WS_ERROR"
			}
			// Retryable unless the server explicitly says otherwise.
			if env.Retryable != nil && !*env.Retryable {
				fault.Retryable = false
			}
			events = append(events, Event{Kind: KindServerFault, Fault: fault})

		default:
			logger.Info("skipping unknown event kind", zap.String("type", tag.Type))
		}
	}
	return events
}
