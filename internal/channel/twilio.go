package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

const (
	ConnectorTwilio = "twilio"

	TwilioSignatureHeader = "X-Twilio-Signature"

	twilioConversationPrefix = "wh_tw:"
)

var ErrInvalidSignature = errors.New("invalid twilio signature")

// TwilioSignature computes the value Twilio puts in X-Twilio-Signature: the
// base64 HMAC-SHA1, keyed by the account auth token, of the full webhook URL
// followed by every POST parameter name and value sorted by name.
func TwilioSignature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			b.WriteString(key)
			b.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyTwilioSignature fails closed: a missing token or header is rejected.
func VerifyTwilioSignature(authToken, webhookURL string, params url.Values, signature string) error {
	authToken = strings.TrimSpace(authToken)
	signature = strings.TrimSpace(signature)
	if authToken == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := TwilioSignature(authToken, webhookURL, params)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// WebhookURL rebuilds the URL Twilio signed. publicBaseURL wins when set since
// the gateway usually sits behind a proxy or tunnel; otherwise the forwarded
// headers and Host of the request are used.
func WebhookURL(publicBaseURL string, r *http.Request) string {
	path := r.URL.RequestURI()
	if base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"); base != "" {
		return base + path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return scheme + "://" + host + path
}

// NormalizeTwilio maps a Twilio WhatsApp form post onto an InboundMessage.
func NormalizeTwilio(params url.Values) domain.InboundMessage {
	from := strings.TrimSpace(params.Get("From"))
	raw := make(map[string]string, len(params))
	for key := range params {
		raw[key] = params.Get(key)
	}
	metadata := map[string]string{"provider": ConnectorTwilio}
	if sid := strings.TrimSpace(params.Get("MessageSid")); sid != "" {
		metadata["message_sid"] = sid
	}
	if name := strings.TrimSpace(params.Get("ProfileName")); name != "" {
		metadata["profile_name"] = name
	}
	return domain.InboundMessage{
		Source:         SourceWhatsApp,
		ConnectorType:  ConnectorTwilio,
		ConversationID: twilioConversationPrefix + from,
		SenderID:       from,
		Text:           params.Get("Body"),
		Raw:            raw,
		Metadata:       metadata,
	}
}
