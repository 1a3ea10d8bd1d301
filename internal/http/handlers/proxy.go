package handlers

import (
	"fmt"
	"io"
	"net/http"

	"provador/internal/gateway"
)

// Produtos forwards the catalog request to the n8n webhook and relays the
// raw JSON body. Upstream failures map to the fixed proxy error contract:
// non-2xx is relayed with the upstream status, transport failures become a
// 500 with a details field.
func (a *App) Produtos(w http.ResponseWriter, r *http.Request) {
	raw, status, err := a.Gateway.ListProducts(r.Context())
	if err != nil {
		a.proxyError(w, err, "Erro ao buscar produtos")
		return
	}
	a.relay(w, status, raw)
}

// TryOn passes the request body through to the try-on webhook unchanged and
// relays the response. The body is capped a little above the photo ceiling
// to leave room for the base64 overhead and the product fields.
func (a *App) TryOn(w http.ResponseWriter, r *http.Request) {
	limit := a.Config.MaxPhotoBytes*2 + 1<<20
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		a.json(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Corpo da requisição excede o limite."})
		return
	}
	raw, status, err := a.Gateway.ForwardTryOn(r.Context(), body)
	if err != nil {
		a.proxyError(w, err, "Erro ao gerar try-on")
		return
	}
	a.relay(w, status, raw)
}

func (a *App) relay(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (a *App) proxyError(w http.ResponseWriter, err error, prefix string) {
	if ge, ok := gateway.AsError(err); ok && ge.Kind == gateway.KindUpstreamStatus {
		a.json(w, ge.Status, errorBody{Error: fmt.Sprintf("%s: %d", prefix, ge.Status)})
		return
	}
	detail := err.Error()
	if ge, ok := gateway.AsError(err); ok {
		detail = ge.Detail
	}
	a.json(w, http.StatusInternalServerError, errorBody{
		Error:   "Falha ao conectar com o n8n",
		Details: detail,
	})
}
