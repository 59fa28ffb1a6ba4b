package idempotency

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2s"
)

// requestStatus — состояние запроса под ключом идемпотентности.
type requestStatus string

const (
	statusInProgress requestStatus = "in-progress"
	statusSuccess    requestStatus = "success"
	statusError      requestStatus = "error"
)

// record — запись в хранилище под ключом идемпотентности.
type record struct {
	Status      requestStatus `json:"status"`
	BodyHash    string        `json:"bodyHash"`
	StatusCode  int           `json:"statusCode,omitempty"`
	ContentType string        `json:"contentType,omitempty"`
	Data        string        `json:"data,omitempty"`
}

func (r record) encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRecord(raw string) (record, error) {
	var r record
	err := json.Unmarshal([]byte(raw), &r)
	return r, err
}

// hashBody — blake2s-256 тела запроса в hex.
// JSON тело хэшируется в компактной форме: запросы, отличающиеся
// только пробелами, считаются одинаковыми.
func hashBody(body []byte) string {
	var compact bytes.Buffer
	if json.Valid(body) && json.Compact(&compact, body) == nil {
		body = compact.Bytes()
	}
	sum := blake2s.Sum256(body)
	return hex.EncodeToString(sum[:])
}
