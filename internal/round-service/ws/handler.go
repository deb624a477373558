package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/updown-round-engine/internal/round-service/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Source entrega snapshots a partir do corrente; o canal fecha quando ctx termina
type Source interface {
	Subscribe(ctx context.Context) <-chan domain.Snapshot
}

// Handler expõe o stream de rodadas via WebSocket
type Handler struct {
	upgrader websocket.Upgrader
	src      Source
	log      *zap.Logger
}

// NewHandler cria o handler com política customizada de origem (CORS)
func NewHandler(src Source, allowOrigin func(r *http.Request) bool, log *zap.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		src:      src,
		log:      log,
	}
}

// ServeHTTP gerencia o ciclo de vida de uma conexão
// Todas as escritas de dados saem da goroutine do writer; pings de controle usam WriteControl
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go h.read(conn, cancel, pongs)

	snaps := h.src.Subscribe(ctx)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			// snapshot pode ter ficado no buffer; remainingMs vale para o instante do envio
			s = s.At(time.Now())
			if err := h.write(conn, ServerMsg{Type: "snapshot", Snapshot: &s}); err != nil {
				h.log.Debug("ws write failed", zap.Error(err))
				return
			}
		case <-pongs:
			if err := h.write(conn, ServerMsg{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, m ServerMsg) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

// read consome mensagens do cliente até a conexão cair
func (h *Handler) read(conn *websocket.Conn, done context.CancelFunc, pongs chan<- struct{}) {
	defer done()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
