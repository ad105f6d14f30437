package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"statehouse/pkg/errdef"
)

// WriteJSON writes a JSON response.
func WriteJSON(ctx *fasthttp.RequestCtx, data interface{}) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONError writes a JSON error response with an error kind.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, kind errdef.Kind, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": string(kind), "message": message})
}

// WriteEngineError maps an engine error kind to an HTTP status and writes it.
func WriteEngineError(ctx *fasthttp.RequestCtx, err error) {
	kind := errdef.KindOf(err)
	WriteJSONError(ctx, statusFor(kind), kind, err.Error())
}

func statusFor(kind errdef.Kind) int {
	switch kind {
	case errdef.KindInvalidRequest:
		return fasthttp.StatusBadRequest
	case errdef.KindTxnNotFound, errdef.KindKeyNotFound, errdef.KindVersionNotFound:
		return fasthttp.StatusNotFound
	case errdef.KindTxnExpired:
		return fasthttp.StatusRequestTimeout
	case errdef.KindTxnAlreadyCommitted:
		return fasthttp.StatusConflict
	default:
		return fasthttp.StatusInternalServerError
	}
}
