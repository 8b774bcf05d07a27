package fanout

import "encoding/json"

// Envelope is the unit carried across the backbone. Origin is the
// publishing process's tag; subscribers drop their own envelopes
// because local delivery already happened at publish time.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin"`
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
