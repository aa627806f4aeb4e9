package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KindConversation     = "conversation"
	KindConversationList = "conversations"
	KindNotifications    = "notifications"
	KindTransactions     = "transactions"
)

// Event types published by the services.
const (
	EventMessageCreated       = "message.created"
	EventMessagesRead         = "messages.read"
	EventConversationCreated  = "conversation.created"
	EventConversationUpdated  = "conversation.updated"
	EventConversationArchived = "conversation.archived"
	EventNotificationCreated  = "notification.created"
	EventNotificationsRead    = "notifications.read"
	EventTransactionCreated   = "transaction.created"
	EventTransactionUpdated   = "transaction.updated"
	EventPaymentLinkCreated   = "payment_link.created"
)

var ErrInvalidTopic = errors.New("invalid topic")

func ConversationTopic(conversationID uint64) string {
	return fmt.Sprintf("%s:%d", KindConversation, conversationID)
}

func ConversationListTopic(uid string) string {
	return KindConversationList + ":" + uid
}

func NotificationTopic(uid string) string {
	return KindNotifications + ":" + uid
}

func TransactionTopic(conversationID uint64) string {
	return fmt.Sprintf("%s:%d", KindTransactions, conversationID)
}

// Topic is a parsed topic name. ID is set for conversation-scoped kinds, UID for user-scoped ones.
type Topic struct {
	Kind string
	ID   uint64
	UID  string
}

func ParseTopic(s string) (Topic, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
	}
	switch kind {
	case KindConversation, KindTransactions:
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
		}
		return Topic{Kind: kind, ID: id}, nil
	case KindConversationList, KindNotifications:
		return Topic{Kind: kind, UID: arg}, nil
	}
	return Topic{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, kind)
}
