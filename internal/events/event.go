// Package events publishes run lifecycle events to Kafka and consumes them
// back for the watch command.
package events

import (
	"fmt"
	"strings"
	"time"
)

const (
	RunStarted  = "run_started"
	RunFinished = "run_finished"
	RunFailed   = "run_failed"
)

type Event struct {
	Version int       `json:"version"`
	Type    string    `json:"type"`
	RunID   string    `json:"run_id"`
	TS      time.Time `json:"ts"`
	Graph   string    `json:"graph,omitempty"`
	Target  string    `json:"target,omitempty"`
	Tiles   int       `json:"tiles,omitempty"`

	DurationMS int64  `json:"duration_ms,omitempty"`
	Computed   int64  `json:"computed,omitempty"`
	Hits       int64  `json:"hits,omitempty"`
	Coalesced  int64  `json:"coalesced,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Type {
	case RunStarted, RunFinished:
		if e.Error != "" {
			return fmt.Errorf("%s must not carry an error", e.Type)
		}
	case RunFailed:
		if strings.TrimSpace(e.Error) == "" {
			return fmt.Errorf("run_failed requires error")
		}
	default:
		return fmt.Errorf("type must be run_started|run_finished|run_failed")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
