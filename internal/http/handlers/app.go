package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"provador/internal/infra"
	"provador/internal/middleware"
	"provador/internal/session"
	"provador/internal/workflow"
)

// Gateway is what the handlers need from the webhook client.
type Gateway interface {
	workflow.Gateway
	ForwardTryOn(ctx context.Context, body []byte) (json.RawMessage, int, error)
}

// App bundles the handler dependencies.
type App struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Gateway  Gateway
	Sessions *session.Store
}

func NewApp(cfg *infra.Config, logger *infra.Logger, gw Gateway, sessions *session.Store) *App {
	return &App{Config: cfg, Logger: logger, Gateway: gw, Sessions: sessions}
}

// newMachine builds a workflow machine with the configured policy.
func (a *App) newMachine() *workflow.Machine {
	return workflow.NewMachine(a.Gateway, workflow.Policy{
		MaxPhotoBytes: a.Config.MaxPhotoBytes,
		EmptyCatalog:  a.Config.EmptyCatalog,
	}, a.Logger)
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the error envelope of the session API.
type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Status  int    `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, r *http.Request, code int, kind, message, detail string) {
	body := errorBody{Error: message, Kind: kind}
	if a.Config.DebugDetails {
		body.Details = detail
	}
	a.json(w, code, body)
}

// localize picks the user-facing message for a message key based on the
// request locale. The storefront speaks Portuguese by default.
func (a *App) localize(r *http.Request, key string) string {
	locale := middleware.LocaleFromContext(r.Context())
	if msgs, ok := messages[locale]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	if msg, ok := messages["pt"][key]; ok {
		return msg
	}
	return key
}

var messages = map[string]map[string]string{
	"pt": {
		"validation":          "Arquivo inválido. Envie uma imagem de até o tamanho permitido.",
		"gateway_unreachable": "Falha na conexão com o n8n. Verifique se o webhook está ativo.",
		"upstream_status":     "O serviço externo respondeu com erro.",
		"normalization_empty": "O n8n respondeu, mas a lista de produtos está vazia.",
		"result_not_found":    "Erro ao processar imagem com IA.",
		"bad_request":         "Requisição inválida.",
		"session_gone":        "Sessão não encontrada ou expirada.",
		"invalid_transition":  "Ação não permitida nesta etapa.",
		"unknown_product":     "Produto não encontrado no catálogo atual.",
		"stale_request":       "Uma ação mais recente substituiu esta requisição.",
	},
	"en": {
		"validation":          "Invalid file. Upload an image within the allowed size.",
		"gateway_unreachable": "Could not reach the generation service.",
		"upstream_status":     "The external service answered with an error.",
		"normalization_empty": "The service answered, but the product list is empty.",
		"result_not_found":    "The AI service did not return an image.",
		"bad_request":         "Invalid request.",
		"session_gone":        "Session not found or expired.",
		"invalid_transition":  "Action not allowed at this stage.",
		"unknown_product":     "Product not found in the current catalog.",
		"stale_request":       "A newer action superseded this request.",
	},
}
