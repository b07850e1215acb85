// Package session owns the in-progress document builds: the session
// entities, their ordered fragment ledgers and the positional insertion
// rules. Sessions live only as long as the build; rendered output that has
// to outlive them goes through the proxy artifact store instead.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrAliasConflict    = errors.New("alias already in use")
	ErrFragmentNotFound = errors.New("fragment reference not found")
)

// Fragment is one ordered unit of document content. The GUID is assigned at
// insert time and is the only stable handle callers have on it.
type Fragment struct {
	GUID       string         `json:"fragmentGuid"`
	FragmentID string         `json:"fragmentId"`
	Parameters map[string]any `json:"parameters"`
	// Image fragments carry the original URL and, when the fetch succeeded,
	// the base64 data URI produced by the embedding pipeline.
	ImageURL string    `json:"imageUrl,omitempty"`
	DataURI  string    `json:"-"`
	Embedded bool      `json:"embedded,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

// PositionKind names the four insertion anchors.
type PositionKind int

const (
	PositionEnd PositionKind = iota
	PositionStart
	PositionBefore
	PositionAfter
)

// Position is a parsed positional-insert request.
type Position struct {
	Kind PositionKind
	Ref  string
}

// ParsePosition translates the wire form ("", "end", "start",
// "before:<guid>", "after:<guid>") into a Position.
func ParsePosition(raw string) (Position, error) {
	switch raw {
	case "", "end":
		return Position{Kind: PositionEnd}, nil
	case "start":
		return Position{Kind: PositionStart}, nil
	}
	if ref, ok := strings.CutPrefix(raw, "before:"); ok && ref != "" {
		return Position{Kind: PositionBefore, Ref: ref}, nil
	}
	if ref, ok := strings.CutPrefix(raw, "after:"); ok && ref != "" {
		return Position{Kind: PositionAfter, Ref: ref}, nil
	}
	return Position{}, fmt.Errorf("invalid position %q", raw)
}

// Info is the immutable identity of a session, safe to hand out.
type Info struct {
	ID         string    `json:"sessionId"`
	Alias      string    `json:"alias,omitempty"`
	Group      string    `json:"-"`
	TemplateID string    `json:"templateId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Snapshot is a consistent copy of a session's state, taken under the
// session lock and then used lock-free (rendering reads these).
type Snapshot struct {
	Info      Info
	Globals   map[string]any
	Fragments []Fragment
}
