package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type IntegrationHandlers struct {
	CreateWhatsApp       stdhttp.HandlerFunc
	ListWhatsApp         stdhttp.HandlerFunc
	ListWhatsAppForAgent stdhttp.HandlerFunc
	DeleteWhatsApp       stdhttp.HandlerFunc
}

type ConnectorHandlers struct {
	TwilioWebhook stdhttp.HandlerFunc
	TwilioStatus  stdhttp.HandlerFunc
}

func registerIntegrationRoutes(api chi.Router, handlers IntegrationHandlers) {
	api.Route("/integrations/whatsapp", func(r chi.Router) {
		r.Post("/", mustHandler("create-whatsapp-integration", handlers.CreateWhatsApp))
		r.Get("/", mustHandler("list-whatsapp-integrations", handlers.ListWhatsApp))
		r.Get("/agent/{agent_id}", mustHandler("list-agent-whatsapp-integrations", handlers.ListWhatsAppForAgent))
		r.Delete("/{integration_id}", mustHandler("delete-whatsapp-integration", handlers.DeleteWhatsApp))
	})
}

func registerConnectorRoutes(api chi.Router, handlers ConnectorHandlers) {
	api.Route("/integrations/connectors/whatsapp/twilio", func(r chi.Router) {
		r.Post("/{path_token}", mustHandler("twilio-webhook", handlers.TwilioWebhook))
		r.Get("/{path_token}", mustHandler("twilio-webhook-status", handlers.TwilioStatus))
	})
}
