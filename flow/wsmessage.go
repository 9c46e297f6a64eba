package flow

import "time"

// WSDirection identifies which side originated a WebSocket frame.
type WSDirection int

const (
	WSFromClient WSDirection = iota
	WSFromServer
)

func (d WSDirection) String() string {
	if d == WSFromClient {
		return "client->server"
	}
	return "server->client"
}

// WSMessage is one relayed WebSocket frame, appended to Flow.Messages in
// arrival order (§4.5).
type WSMessage struct {
	Direction WSDirection
	Opcode    int
	Message   []byte
	Timestamp time.Time
}
