package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationFollow           NotificationType = "follow"
	NotificationFollowRequest    NotificationType = "follow_request"
	NotificationFavourite        NotificationType = "favourite"
	NotificationReblog           NotificationType = "reblog"
	NotificationMention          NotificationType = "mention"
	NotificationPoll             NotificationType = "poll"
	NotificationReaction         NotificationType = "reaction"
	NotificationQuote            NotificationType = "quote"
	NotificationGroupJoin        NotificationType = "group_join"
	NotificationGroupJoinRequest NotificationType = "group_join_request"
	NotificationMove             NotificationType = "move"
)

// Notification represents a notification for a local account
type Notification struct {
	Id               uuid.UUID
	AccountId        uuid.UUID // The local account receiving the notification
	NotificationType NotificationType
	FromAccountId    uuid.UUID  // The account that triggered the notification
	StatusId         *uuid.UUID // Target status for favourite/reblog/mention/quote
	Read             bool
	CreatedAt        time.Time
}

// TypeLabel returns a human-readable label for the notification type
func (n *Notification) TypeLabel() string {
	switch n.NotificationType {
	case NotificationFollow:
		return "followed you"
	case NotificationFollowRequest:
		return "requested to follow you"
	case NotificationFavourite:
		return "favourited your post"
	case NotificationReblog:
		return "boosted your post"
	case NotificationMention:
		return "mentioned you"
	case NotificationPoll:
		return "voted in your poll"
	case NotificationReaction:
		return "reacted to your post"
	case NotificationQuote:
		return "quoted your post"
	case NotificationGroupJoin:
		return "joined your group"
	case NotificationGroupJoinRequest:
		return "requested to join your group"
	case NotificationMove:
		return "moved to a new account"
	default:
		return ""
	}
}

// Summary returns a one-line summary of the notification
func (n *Notification) Summary() string {
	return fmt.Sprintf("%s %s", n.FromAccountId, n.TypeLabel())
}
