package cache

const keyPrefix = "updown:"

// CurrentRoundKey guarda o último snapshot publicado da rodada
func CurrentRoundKey() string { return keyPrefix + "round:current" }

// LeaderKey é a chave do lease de liderança do coordenador
func LeaderKey(name string) string { return keyPrefix + name }
