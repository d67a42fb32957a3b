package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidKind = errors.New("invalid event kind")

// Marshal encodes an event body. The kind travels separately in the frame
// header.
func Marshal(ev Event) (Kind, []byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %v: %w", ev.Kind(), err)
	}
	return ev.Kind(), body, nil
}

func Unmarshal(k Kind, body []byte) (Event, error) {
	ev, err := New(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("unmarshal %v: %w", k, err)
	}
	return ev, nil
}
