package mqtt

import (
	"encoding/json"
	"strings"

	"github.com/sweeney/garage-door/internal/door"
)

// HomeKit style single letter encodings of the door state.
var stateLetters = map[door.State]string{
	door.StateOpening: "o",
	door.StateClosing: "c",
	door.StateOpen:    "O",
	door.StateClosed:  "C",
	door.StateStopped: "S",
	door.StateUnknown: "U",
}

// StateLetter encodes a door state for the current-state topic.
func StateLetter(s door.State) string {
	if l, ok := stateLetters[s]; ok {
		return l
	}
	return "U"
}

// TargetLetter encodes a target state for the target-state topic.
func TargetLetter(t door.Target) string {
	if t == door.TargetOpen {
		return "O"
	}
	return "C"
}

// ParseTargetLetter decodes a retained target-state value.
func ParseTargetLetter(payload []byte) (door.Target, bool) {
	switch strings.TrimSpace(string(payload)) {
	case "O":
		return door.TargetOpen, true
	case "C":
		return door.TargetClosed, true
	}
	return "", false
}

// ParseSetTarget decodes a set-target request into a door command. It
// accepts a letter or word (O, C, S, open, closed, close, stop), optionally
// as a JSON string, or a JSON object such as {"target":"open"}.
func ParseSetTarget(payload []byte) (door.Command, bool) {
	s := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(s, "{"):
		var req struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal([]byte(s), &req); err != nil {
			return "", false
		}
		s = req.Target
	case strings.HasPrefix(s, `"`):
		if err := json.Unmarshal([]byte(s), &s); err != nil {
			return "", false
		}
	}

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "o", "open":
		return door.CommandOpen, true
	case "c", "close", "closed":
		return door.CommandClose, true
	case "s", "stop", "stopped":
		return door.CommandStop, true
	}
	return "", false
}
