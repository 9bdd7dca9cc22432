package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event is the decoded voice webhook: exactly one of ToolCall or Finalization.
type Event interface {
	isEvent()
}

// ToolCall is a mid-conversation tool invocation by the voice agent.
type ToolCall struct {
	ToolName      string
	CallID        string
	Outcome       string
	RescheduleDay string
}

// Finalization is the post-call report for one execution.
type Finalization struct {
	ExecutionID     string
	BatchID         string
	Status          string
	TotalCost       float64
	Transcript      string
	ExtractedData   json.RawMessage
	ToNumber        string
	DurationSeconds float64
	RecordingURL    string
}

func (ToolCall) isEvent()     {}
func (Finalization) isEvent() {}

// Attendance is the "attendance" value the agent extracted from the conversation.
func (f Finalization) Attendance() string {
	if len(f.ExtractedData) == 0 {
		return ""
	}
	var data map[string]any
	if err := json.Unmarshal(f.ExtractedData, &data); err != nil {
		return ""
	}
	s, _ := data["attendance"].(string)
	return strings.TrimSpace(s)
}

type rawEvent struct {
	ToolName      string `json:"tool_name"`
	CallID        string `json:"call_id"`
	Outcome       string `json:"outcome"`
	RescheduleDay string `json:"reschedule_day"`

	ID            string          `json:"id"`
	ExecutionID   string          `json:"execution_id"`
	BatchID       string          `json:"batch_id"`
	Status        string          `json:"status"`
	TotalCost     flexNumber      `json:"total_cost"`
	Transcript    string          `json:"transcript"`
	ExtractedData json.RawMessage `json:"extracted_data"`
	TelephonyData struct {
		ToNumber     string     `json:"to_number"`
		Duration     flexNumber `json:"duration"`
		RecordingURL string     `json:"recording_url"`
	} `json:"telephony_data"`
}

// DecodeEvent parses a webhook body. A non-empty tool_name marks a tool call;
// anything else is a finalization. id and execution_id are synonyms.
func DecodeEvent(body []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if name := strings.TrimSpace(raw.ToolName); name != "" {
		return ToolCall{
			ToolName:      name,
			CallID:        strings.TrimSpace(raw.CallID),
			Outcome:       strings.TrimSpace(raw.Outcome),
			RescheduleDay: strings.TrimSpace(raw.RescheduleDay),
		}, nil
	}

	execID := strings.TrimSpace(raw.ExecutionID)
	if execID == "" {
		execID = strings.TrimSpace(raw.ID)
	}
	extracted := bytes.TrimSpace(raw.ExtractedData)
	if bytes.Equal(extracted, []byte("null")) {
		extracted = nil
	}
	return Finalization{
		ExecutionID:     execID,
		BatchID:         strings.TrimSpace(raw.BatchID),
		Status:          strings.TrimSpace(raw.Status),
		TotalCost:       float64(raw.TotalCost),
		Transcript:      raw.Transcript,
		ExtractedData:   json.RawMessage(extracted),
		ToNumber:        strings.TrimSpace(raw.TelephonyData.ToNumber),
		DurationSeconds: float64(raw.TelephonyData.Duration),
		RecordingURL:    strings.TrimSpace(raw.TelephonyData.RecordingURL),
	}, nil
}

// flexNumber accepts 12.5, "12.5", "" and null.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*n = flexNumber(f)
	return nil
}
