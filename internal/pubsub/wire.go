package pubsub

import "encoding/json"

// wireMessage is how a Message crosses a network broker.
type wireMessage struct {
	Topic    string            `json:"topic"`
	UserID   string            `json:"userId,omitempty"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func encodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(wireMessage{
		Topic:    msg.Topic,
		UserID:   msg.UserID,
		Payload:  msg.Payload,
		Metadata: msg.Metadata,
	})
}

func decodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, err
	}
	return Message{
		Topic:    w.Topic,
		UserID:   w.UserID,
		Payload:  w.Payload,
		Metadata: w.Metadata,
	}, nil
}
