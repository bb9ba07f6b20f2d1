package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type ChatHandlers struct {
	Chat          stdhttp.HandlerFunc
	History       stdhttp.HandlerFunc
	CustomGPTChat stdhttp.HandlerFunc
}

func registerChatRoutes(api chi.Router, handlers ChatHandlers) {
	api.Route("/chat", func(r chi.Router) {
		r.Post("/", mustHandler("chat", handlers.Chat))
		r.Get("/history/{agent_id}/{user_id}", mustHandler("chat-history", handlers.History))
	})
	api.Post("/custom-gpts/{custom_gpt_id}/chat", mustHandler("custom-gpt-chat", handlers.CustomGPTChat))
}
