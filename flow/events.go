package flow

// Event is the tagged union of incremental flow mutations (§3 FlowEvent,
// §4.8). Go has no sum type, so — as denisvmedia/go-mitmproxy does throughout for
// protocol dispatch — this is modeled as a marker-method interface plus one
// concrete struct per variant; Store.apply type-switches over it.
type Event interface {
	isFlowEvent()
}

// TCPConnect records that the upstream TCP dial completed.
type TCPConnect struct {
	Addr string
}

func (TCPConnect) isFlowEvent() {}

// ClientHTTPHandshakeStart marks the start of the downstream (client-facing)
// HTTP handshake/negotiation.
type ClientHTTPHandshakeStart struct{}

func (ClientHTTPHandshakeStart) isFlowEvent() {}

// ClientHTTPHandshakeComplete marks completion of the downstream handshake.
type ClientHTTPHandshakeComplete struct{}

func (ClientHTTPHandshakeComplete) isFlowEvent() {}

// ClientTLSConn records the proxy-as-TLS-client handshake against the real
// origin server: despite the "Client" prefix, it populates the
// Certs.ServerTLS / Certs.ServerVerification fields,
// because from the Flow's perspective this is the "server" leg of the
// exchange.
type ClientTLSConn struct {
	Params *TLSParams
	Verify *VerificationResult
}

func (ClientTLSConn) isFlowEvent() {}

// ServerTLSConnInitiated marks the start of the downstream TLS handshake
// (proxy acting as TLS server toward the real client).
type ServerTLSConnInitiated struct{}

func (ServerTLSConnInitiated) isFlowEvent() {}

// ServerClientTLSHandshake marks completion of the downstream TLS handshake
// and records its negotiated parameters.
type ServerClientTLSHandshake struct {
	Hello  *ClientHello
	Params *TLSParams
}

func (ServerClientTLSHandshake) isFlowEvent() {}

// ResponseEvent assigns the flow's response (wraps InterceptedResponse so it
// satisfies Event without colliding with the InterceptedResponse type name).
type ResponseEvent struct {
	Response *InterceptedResponse
}

func (ResponseEvent) isFlowEvent() {}

// WSMessageEvent appends one relayed WebSocket frame.
type WSMessageEvent struct {
	Message WSMessage
}

func (WSMessageEvent) isFlowEvent() {}

// ErrorEvent records a terminal flow error (§4.1 "mark the flow with an
// error string").
type ErrorEvent struct {
	Err string
}

func (ErrorEvent) isFlowEvent() {}

// ServerConnClosed records the server_conn_closed timestamp (§4.3
// Cancellation).
type ServerConnClosed struct{}

func (ServerConnClosed) isFlowEvent() {}

// apply mutates f according to ev. Called only from Store's single
// event-drain goroutine, which already holds f's write lock for the
// duration (§4.8 "acquires an exclusive lock on the target flow").
func apply(f *Flow, ev Event) {
	switch e := ev.(type) {
	case TCPConnect:
		f.ServerAddr = e.Addr
		f.Timing.ServerConnTCPHandshake = stamp()
	case ClientHTTPHandshakeStart:
		f.Timing.ClientHTTPHandshakeStart = stamp()
	case ClientHTTPHandshakeComplete:
		f.Timing.ClientHTTPHandshakeComplete = stamp()
	case ClientTLSConn:
		f.Certs.ServerTLS = e.Params
		f.Certs.ServerVerification = e.Verify
		f.Timing.ServerConnTLSHandshake = stamp()
	case ServerTLSConnInitiated:
		f.Timing.ClientConnEstablished = stamp()
	case ServerClientTLSHandshake:
		f.Certs.ClientHello = e.Hello
		f.Certs.ClientTLS = e.Params
	case ResponseEvent:
		f.Response = e.Response
		f.Timing.ResponseComplete = stamp()
		if f.Timing.FirstResponseBytes == nil {
			f.Timing.FirstResponseBytes = f.Timing.ResponseComplete
		}
	case WSMessageEvent:
		f.Messages = append(f.Messages, e.Message)
	case ErrorEvent:
		f.Err = e.Err
	case ServerConnClosed:
		f.Timing.ServerConnClosed = stamp()
	}
}
