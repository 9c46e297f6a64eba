package flow

import "time"

// Timing holds the wall-clock milestones of one exchange. Unset fields are
// nil and are skipped by the monotonicity check (§8 invariant 4):
//
//	client_conn_established ≤ first_request_bytes ≤ request_complete ≤
//	first_response_bytes ≤ response_complete
type Timing struct {
	ClientConnEstablished       *time.Time
	FirstRequestBytes           *time.Time
	RequestComplete             *time.Time
	FirstResponseBytes          *time.Time
	ResponseComplete            *time.Time
	ServerConnTCPHandshake      *time.Time
	ServerConnTLSHandshake      *time.Time
	ClientHTTPHandshakeStart    *time.Time
	ClientHTTPHandshakeComplete *time.Time
	ServerConnClosed            *time.Time
}

// Monotonic checks the ordering invariant over whichever milestones are set,
// skipping unset ones.
func (t *Timing) Monotonic() bool {
	seq := []*time.Time{
		t.ClientConnEstablished,
		t.FirstRequestBytes,
		t.RequestComplete,
		t.FirstResponseBytes,
		t.ResponseComplete,
	}
	var last *time.Time
	for _, cur := range seq {
		if cur == nil {
			continue
		}
		if last != nil && cur.Before(*last) {
			return false
		}
		last = cur
	}
	return true
}

func stamp() *time.Time {
	now := time.Now()
	return &now
}
