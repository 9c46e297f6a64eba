package web

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/roxyproxy/roxy/flow"
)

// message:
//
// version 1 byte + type 1 byte + flow id 8 byte (big-endian int64) +
// content left bytes (JSON)
//
// Grounded on denisvmedia/go-mitmproxy's web/message.go envelope (version + type + id +
// content), generalized from its addon-era per-field frames
// (request/requestBody/response/responseBody/conn/connClose) plus an
// editable break-point protocol to a read-only flow-snapshot/event stream:
// §6's observation bus has no UI-side edit path, since request/response
// mutation is now the script runtime's job (§4.7), strictly more general
// than denisvmedia/go-mitmproxy's two break-point actions.
const messageVersion = 3

type messageType byte

const (
	messageTypeFlowNew     messageType = 0 // full flow snapshot, flow just created
	messageTypeFlowUpdate  messageType = 1 // full flow snapshot, flow mutated
	messageTypeFlowMessage messageType = 2 // one flow.WSMessage appended
)

type message struct {
	mType   messageType
	id      int64
	content []byte
}

// flowSnapshot is the JSON shape sent for messageTypeFlowNew/Update; it
// mirrors flow.Flow's public fields rather than aliasing the struct
// directly, so adding internal bookkeeping to Flow never changes the wire
// format by accident.
type flowSnapshot struct {
	ID         int64                     `json:"id"`
	ConnID     string                    `json:"connId"`
	ClientAddr string                    `json:"clientAddr"`
	ServerAddr string                    `json:"serverAddr"`
	Request    *flow.InterceptedRequest  `json:"request,omitempty"`
	Response   *flow.InterceptedResponse `json:"response,omitempty"`
	Err        string                    `json:"err,omitempty"`
}

func newFlowMessage(mType messageType, f *flow.Flow) (*message, error) {
	var snap flowSnapshot
	f.View(func(f *flow.Flow) {
		snap = flowSnapshot{
			ID:         f.ID,
			ConnID:     f.ConnID,
			ClientAddr: f.ClientAddr,
			ServerAddr: f.ServerAddr,
			Request:    f.Request,
			Response:   f.Response,
			Err:        f.Err,
		}
	})

	content, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return &message{mType: mType, id: snap.ID, content: content}, nil
}

type wsMessageFrame struct {
	Direction string    `json:"direction"`
	Opcode    int       `json:"opcode"`
	Message   []byte    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func newWSMessage(id int64, wm flow.WSMessage) (*message, error) {
	content, err := json.Marshal(wsMessageFrame{
		Direction: wm.Direction.String(),
		Opcode:    wm.Opcode,
		Message:   wm.Message,
		Timestamp: wm.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return &message{mType: messageTypeFlowMessage, id: id, content: content}, nil
}

func (m *message) toBytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 10+len(m.content)))
	buf.WriteByte(byte(messageVersion))
	buf.WriteByte(byte(m.mType))
	idBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idBuf, uint64(m.id))
	buf.Write(idBuf)
	buf.Write(m.content)
	return buf.Bytes()
}
