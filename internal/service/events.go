package service

import (
	"github.com/google/uuid"

	"github.com/xkilldash9x/musinsa-manager/internal/review"
)

// Event types pushed to subscribers without a request.
const (
	EventLoginResult   = "loginResult"
	EventSessionStatus = "sessionStatus"
	EventSyncProgress  = "syncProgress"
	EventDebugLog      = "debugLog"
)

// Event is one unsolicited message for the UI.
type Event struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	At      int64       `json:"at"`
	Payload interface{} `json:"payload"`
}

// DebugEntry is the payload of a debugLog event.
type DebugEntry struct {
	Scope         string                 `json:"scope"`
	Step          string                 `json:"step"`
	OrderNo       string                 `json:"orderNo,omitempty"`
	OrderOptionNo string                 `json:"orderOptionNo,omitempty"`
	Kind          string                 `json:"kind,omitempty"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

func debugFromStep(s review.Step) DebugEntry {
	return DebugEntry{
		Scope:         "review_dom",
		Step:          s.Name,
		OrderNo:       s.OrderNo,
		OrderOptionNo: s.OrderOptionNo,
		Kind:          string(s.Kind),
		Detail:        s.Detail,
	}
}

func (c *Controller) publish(kind string, payload interface{}) {
	c.Bus.Publish(Event{
		ID:      uuid.NewString(),
		Type:    kind,
		At:      c.now().UnixMilli(),
		Payload: payload,
	})
}

// Subscribe registers an event listener. The returned func unsubscribes.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.Bus.Subscribe(buffer)
}
