package protocol

import "encoding/json"

// UpdateStatus is the lifecycle state of an Update.
type UpdateStatus string

const (
	UpdateQueued     UpdateStatus = "Queued"
	UpdateInProgress UpdateStatus = "InProgress"
	UpdateComplete   UpdateStatus = "Complete"
)

// UpdateEvent is the message broadcast on the update socket.
type UpdateEvent struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	StartTS   int64           `json:"start_ts,omitempty"`
	Success   bool            `json:"success"`
	Username  string          `json:"username,omitempty"`
	Operator  string          `json:"operator,omitempty"`
	Target    ResourceTarget  `json:"target"`
	Status    UpdateStatus    `json:"status"`
	Version   json.RawMessage `json:"version,omitempty"`
	OtherData string          `json:"other_data,omitempty"`
}

// ObjectID is the Mongo-style identifier wrapper used by full entities.
type ObjectID struct {
	OID string `json:"$oid"`
}

// Log is one stage of an Update's execution log.
type Log struct {
	Stage   string `json:"stage"`
	Command string `json:"command"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
	StartTS int64  `json:"start_ts"`
	EndTS   int64  `json:"end_ts"`
}

// Update is the full entity returned by GetUpdate and execute calls.
type Update struct {
	ObjectID   ObjectID        `json:"_id"`
	Operation  string          `json:"operation"`
	StartTS    int64           `json:"start_ts"`
	Success    bool            `json:"success"`
	Operator   string          `json:"operator"`
	Target     ResourceTarget  `json:"target"`
	Logs       []Log           `json:"logs"`
	EndTS      *int64          `json:"end_ts,omitempty"`
	Status     UpdateStatus    `json:"status"`
	Version    json.RawMessage `json:"version,omitempty"`
	CommitHash string          `json:"commit_hash,omitempty"`
	OtherData  string          `json:"other_data,omitempty"`
}

// ID returns the string form of the Update's object id.
func (u *Update) ID() string {
	if u == nil {
		return ""
	}
	return u.ObjectID.OID
}

// Complete reports whether the Update reached its terminal status.
func (u *Update) Complete() bool {
	return u != nil && u.Status == UpdateComplete
}

// Batch item status tags.
const (
	BatchStatusOk  = "Ok"
	BatchStatusErr = "Err"
)

// BatchItemErr describes one failed item of a batch execution.
type BatchItemErr struct {
	Name  string    `json:"name"`
	Error ErrorBody `json:"error"`
}

// BatchItem is one element of a batch execution response: either an
// Update (Ok) or an error (Err).
type BatchItem struct {
	Status string        `json:"status"`
	Update *Update       `json:"-"`
	Err    *BatchItemErr `json:"-"`
}

type batchItemWire struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// OK reports whether the item carries an Update.
func (b BatchItem) OK() bool {
	return b.Status == BatchStatusOk && b.Update != nil
}

// MarshalJSON implements json.Marshaler.
func (b BatchItem) MarshalJSON() ([]byte, error) {
	var data any
	switch {
	case b.Update != nil:
		data = b.Update
	case b.Err != nil:
		data = b.Err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(batchItemWire{Status: b.Status, Data: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BatchItem) UnmarshalJSON(data []byte) error {
	var wire batchItemWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*b = BatchItem{Status: wire.Status}
	switch wire.Status {
	case BatchStatusOk:
		var u Update
		if err := json.Unmarshal(wire.Data, &u); err != nil {
			return err
		}
		b.Update = &u
	default:
		var e BatchItemErr
		if len(wire.Data) > 0 {
			if err := json.Unmarshal(wire.Data, &e); err != nil {
				return err
			}
		}
		b.Err = &e
	}
	return nil
}
