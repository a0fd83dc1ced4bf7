package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// opsServer は同期実行中に /health と /metrics を公開するHTTPサーバー。
type opsServer struct {
	server *http.Server
	logger *slog.Logger
	done   chan struct{}
}

// startOpsServer はaddrでリッスンを開始する。リッスンに失敗した場合はエラーを返す。
func startOpsServer(addr string, h http.Handler, logger *slog.Logger) (*opsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &opsServer{
		server: &http.Server{
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		logger.Info("ops server starting", slog.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", slog.String("error", err.Error()))
		}
	}()
	return s, nil
}

// Shutdown はサーバーを停止し、処理中のリクエストの完了を待つ。
func (s *opsServer) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("ops server shutdown failed", slog.String("error", err.Error()))
	}
	<-s.done
	s.logger.Info("ops server stopped")
}
