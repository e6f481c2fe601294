// Package delivery hands one-time codes to an outbound mail pipeline over Kafka
// or a Redis stream. Both senders satisfy authcore.CodeSender.
package delivery

import (
	"encoding/json"
	"time"

	ac "github.com/panyam/authcore"
)

// CodeMessage is the payload published for every code
type CodeMessage struct {
	Email   string         `json:"email"`
	Code    string         `json:"code"`
	Purpose ac.CodePurpose `json:"purpose"`
	Subject string         `json:"subject"`
	SentAt  time.Time      `json:"sent_at"`
}

func newCodeMessage(email, code string, purpose ac.CodePurpose, now time.Time) CodeMessage {
	return CodeMessage{
		Email:   email,
		Code:    code,
		Purpose: purpose,
		Subject: purpose.Subject(),
		SentAt:  now.UTC(),
	}
}

func (m CodeMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
