package ws

import "github.com/radieske/updown-round-engine/internal/round-service/domain"

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: ping (o stream de rodadas não tem subscribe por tópico)
type ClientMsg struct {
	Type string `json:"type"`
}

// ServerMsg é o envelope enviado ao cliente
// Type: snapshot | pong
type ServerMsg struct {
	Type     string           `json:"type"`
	Snapshot *domain.Snapshot `json:"snapshot,omitempty"`
}
