// Package topicmgr keeps a central registry of the bus topics the chat core
// publishes on, with framework/module scoping and name validation.
//
// Fixed topics are defined once and registered at init time:
//
//	var UserOnline = topicmgr.DefineFramework(topicmgr.TopicConfig{
//		Name:        "presence.user.online",
//		Description: "Published when a user's first connection opens",
//		Pattern:     "presence.user.online",
//	})
//
// Per-room broker channels are not registered individually; they are
// derived from the chat.room pattern with Room and parsed back with
// RoomIDFromTopic.
//
// Registered topics can be discovered:
//
//	all := topicmgr.List()
//	chat := topicmgr.ListByModule("chat")
package topicmgr
