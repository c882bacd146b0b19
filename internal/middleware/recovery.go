package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉してログに残し、
// 統一フォーマットの500レスポンスを返す。
// WebSocketへ切り替え済みの接続にはHTTPレスポンスを書けないため、ログだけ残す。
// http.ErrAbortHandlerは意図的な中断のため再送出する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				upgrade := isWebSocketUpgrade(r)
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("websocket", upgrade),
					slog.String("stack", string(debug.Stack())),
				)
				if !upgrade {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// isWebSocketUpgrade はWebSocketへの切り替え要求かを判定する。
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
