// Package channel turns inbound messaging-provider webhooks into
// channel-agnostic messages and checks that they really came from the provider.
package channel

import (
	"log"
	"unicode/utf8"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

const (
	SourceWhatsApp = "whatsapp"

	// FallbackReply is sent back to the end user when orchestration produced
	// no text or failed.
	FallbackReply = "Currently Unavailable"
)

// LogInbound records an inbound message without its body.
func LogInbound(msg domain.InboundMessage) {
	log.Printf(
		"[channel] inbound source=%s connector=%s conversation=%s chars=%d",
		msg.Source, msg.ConnectorType, msg.ConversationID, utf8.RuneCountInString(msg.Text),
	)
}

// ReplyText picks the text returned to the provider for a finished
// orchestration.
func ReplyText(content string, err error) string {
	if err != nil || content == "" {
		return FallbackReply
	}
	return content
}
