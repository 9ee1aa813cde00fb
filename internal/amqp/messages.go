package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"allowance/internal/core"
)

// ReportRequestMessage asks the worker to generate and archive one user's
// monthly report. AuthToken is the requester's upstream bearer token; the
// worker uses it to read the user's records.
type ReportRequestMessage struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name,omitempty"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	AuthToken   string    `json:"auth_token,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewReportRequestMessage(userID, userName string, year, month int, authToken string) *ReportRequestMessage {
	return &ReportRequestMessage{
		RequestID:   uuid.NewString(),
		UserID:      userID,
		UserName:    userName,
		Year:        year,
		Month:       month,
		AuthToken:   authToken,
		RequestedAt: time.Now().UTC(),
	}
}

// MonthKey returns the "YYYY-MM" bucket the request is for.
func (m *ReportRequestMessage) MonthKey() string {
	return core.MonthKeyOf(m.Year, m.Month)
}

func (m *ReportRequestMessage) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("missing user id")
	}
	if m.Month < 1 || m.Month > 12 || m.Year < 1 {
		return fmt.Errorf("%w: %d-%d", core.ErrInvalidMonth, m.Year, m.Month)
	}
	return nil
}

func (m *ReportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportRequestMessageFromJSON decodes and validates a queued request.
func ReportRequestMessageFromJSON(data []byte) (*ReportRequestMessage, error) {
	var msg ReportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
