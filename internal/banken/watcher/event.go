package watcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// maxLineExcerpt bounds how much of a malformed line is echoed into logs.
const maxLineExcerpt = 200

// KindContainer is the event kind emitted for container lifecycle changes.
const KindContainer = "container"

// RawEvent is the decoded form of one line of event-source output. The wire
// shape follows the Docker events JSON format: one object per line with a
// resource type, an action, and the acting resource's ID and attributes.
type RawEvent struct {
	Type   string `json:"Type"`
	Action string `json:"Action"`
	Actor  struct {
		ID         string            `json:"ID"`
		Attributes map[string]string `json:"Attributes"`
	} `json:"Actor"`
	Time     int64 `json:"time"`
	TimeNano int64 `json:"timeNano"`
}

// decodeEvent parses one line into a RawEvent. A malformed line yields no
// event: the failure is logged with a bounded excerpt and the pipeline moves
// on to the next line.
func decodeEvent(line string) (RawEvent, bool) {
	var ev RawEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		slog.Error("watcher: failed to decode event line",
			"err", err, "line", excerpt(line))
		return RawEvent{}, false
	}
	return ev, true
}

// excerpt truncates a line to maxLineExcerpt runes for log output, never
// splitting a multi-byte character.
func excerpt(line string) string {
	if len(line) <= maxLineExcerpt {
		return line
	}
	n := 0
	for i := range line {
		if n == maxLineExcerpt {
			return line[:i]
		}
		n++
	}
	return line
}

// Filter decides which decoded events are forwarded to the sink.
// The zero value forwards nothing; use DefaultFilter for the standard policy.
// This is policy, not protocol — deployments that need the excluded actions
// downstream can override ExcludedActions.
type Filter struct {
	// Kinds are the event kinds to forward.
	Kinds []string
	// ExcludedActions are actions suppressed within the forwarded kinds.
	ExcludedActions []string
}

// DefaultFilter forwards container events except the noisy stop/kill pair
// (a container stop already surfaces as "die").
func DefaultFilter() Filter {
	return Filter{
		Kinds:           []string{KindContainer},
		ExcludedActions: []string{"stop", "kill"},
	}
}

// Forward reports whether ev passes the filter.
func (f Filter) Forward(ev RawEvent) bool {
	kindOK := false
	for _, k := range f.Kinds {
		if ev.Type == k {
			kindOK = true
			break
		}
	}
	if !kindOK {
		return false
	}
	for _, a := range f.ExcludedActions {
		if ev.Action == a {
			return false
		}
	}
	return true
}

// Outbound is the payload handed to the Sink for delivery to the control
// plane. Attributes carries either the raw actor attributes or, for enriched
// container-creation events, the enriched attribute set.
type Outbound struct {
	// Name is the event name, "<kind>.<action>" (e.g. "container.create").
	Name string
	// Kind is the resource kind of the actor.
	Kind string
	// ID is the actor's resource ID.
	ID string
	// Attributes is the free-form attribute mapping.
	Attributes map[string]any
}

// outboundFor builds the relay payload for a raw event with the given
// attribute set.
func outboundFor(ev RawEvent, attrs map[string]any) Outbound {
	return Outbound{
		Name:       fmt.Sprintf("%s.%s", ev.Type, ev.Action),
		Kind:       ev.Type,
		ID:         ev.Actor.ID,
		Attributes: attrs,
	}
}

// rawAttributes converts an event's string attributes into the outbound
// attribute map.
func rawAttributes(ev RawEvent) map[string]any {
	attrs := make(map[string]any, len(ev.Actor.Attributes))
	for k, v := range ev.Actor.Attributes {
		attrs[k] = v
	}
	return attrs
}
