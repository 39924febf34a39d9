package events

import (
	"encoding/json"
)

// Event types pushed to observers.
const (
	TypeWorkerStateChanged = "worker_state_changed"
	TypeNetStateChanged    = "net_state_changed"
	TypeWorkerDeleted      = "worker_deleted"
	TypeNetDeleted         = "net_deleted"
)

// Event is one state-change notification. Owner is the identity whose
// observers should receive it; it rides the wire between the outbox and the
// shared listener but is stripped from the frames pushed to observers.
type Event struct {
	Type         string `json:"type"`
	WorkerID     string `json:"worker_id,omitempty"`
	NetID        string `json:"net_id,omitempty"`
	Status       string `json:"status,omitempty"`
	StatusDetail string `json:"status_detail,omitempty"`
	LoadState    string `json:"load_state,omitempty"`
	Owner        string `json:"owner_identity,omitempty"`
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// ObserverJSON renders the event as sent to an observer, without the
// routing identity.
func (e Event) ObserverJSON() ([]byte, error) {
	e.Owner = ""
	return json.Marshal(e)
}
