package presence

// Status is an account's availability state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Signal is an input to the presence state machine. Signals originate
// from the client (focus, blur, heartbeat), the session lifecycle
// (connect, sign_out) or the transport (disconnect).
type Signal string

const (
	SignalConnect    Signal = "connect"
	SignalFocus      Signal = "focus"
	SignalBlur       Signal = "blur"
	SignalHeartbeat  Signal = "heartbeat"
	SignalSignOut    Signal = "sign_out"
	SignalDisconnect Signal = "disconnect"
)

// transitions is the full state machine. A missing entry means the
// signal is illegal in that state and is ignored. Heartbeats are
// self-transitions so they refresh last_seen without changing status.
var transitions = map[Status]map[Signal]Status{
	StatusOffline: {
		SignalConnect: StatusOnline,
	},
	StatusOnline: {
		SignalConnect:    StatusOnline,
		SignalBlur:       StatusIdle,
		SignalHeartbeat:  StatusOnline,
		SignalSignOut:    StatusOffline,
		SignalDisconnect: StatusOffline,
	},
	StatusIdle: {
		SignalConnect:    StatusOnline,
		SignalFocus:      StatusOnline,
		SignalHeartbeat:  StatusIdle,
		SignalSignOut:    StatusOffline,
		SignalDisconnect: StatusOffline,
	},
}

// next applies sig to cur. ok is false when the signal is illegal in the
// current state, in which case cur is returned unchanged.
func next(cur Status, sig Signal) (Status, bool) {
	row, found := transitions[cur]
	if !found {
		return cur, false
	}
	to, found := row[sig]
	if !found {
		return cur, false
	}
	return to, true
}
