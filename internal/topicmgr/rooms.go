package topicmgr

import "strings"

const roomTopicPrefix = "chat.room."

// RoomChannel documents the per-room broker channels. Concrete channel
// names embed the room id and are built with Room.
var RoomChannel = DefineModule(TopicConfig{
	Name:        "chat.room",
	Module:      "chat",
	Description: "Per-room fan-out channel carrying server envelopes to every instance",
	Pattern:     roomTopicPrefix + "*",
})

func init() {
	Default().MustRegister(RoomChannel)
}

// Room returns the broker channel for roomID.
func Room(roomID string) string {
	return roomTopicPrefix + roomID
}

// RoomIDFromTopic extracts the room id from a channel built by Room.
func RoomIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, roomTopicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
