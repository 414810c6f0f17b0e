package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeGenerateRenditions = "rendition:generate"

// GenerateRenditionsPayload asks the worker to (re)generate renditions for
// one record. An empty Formats list means every format configured for the
// record's field.
type GenerateRenditionsPayload struct {
	RecordID    string    `json:"record_id"`
	Formats     []string  `json:"formats,omitempty"`
	Force       bool      `json:"force,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewGenerateRenditionsTask(payload GenerateRenditionsPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateRenditions, body), nil
}

func ParseGenerateRenditionsPayload(task *asynq.Task) (GenerateRenditionsPayload, error) {
	var payload GenerateRenditionsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GenerateRenditionsPayload{}, fmt.Errorf("unmarshal generate payload: %w", err)
	}
	return payload, nil
}
