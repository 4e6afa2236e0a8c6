package natsbus

import (
	"fmt"
	"strings"
)

// Topic patterns for NATS pub/sub communication.

// TopicIPC is the request/reply subject served by a running gateway.
const TopicIPC = "relay.ipc"

func TopicEventsPlan(planID string) string {
	return fmt.Sprintf("events.plan.%s", token(planID))
}

func TopicEventsSession(sessionID string) string {
	return fmt.Sprintf("events.session.%s", token(sessionID))
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsPlans    = "events.plan.*"
	TopicEventsSessions = "events.session.*"
	TopicEventsSweeper  = "events.sweeper"
)

// token makes an id safe to use as a single subject token.
func token(id string) string {
	if id == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(id)
}
