package client

import "github.com/aretw0/docsync/pkg/core"

// BufferState is the edit state of one open document.
type BufferState int

const (
	// Clean shows the server version; there is no local draft.
	Clean BufferState = iota
	// Dirty holds a local draft that has not been saved.
	Dirty
	// Saving has a save request in flight.
	Saving
)

func (s BufferState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// EditBuffer is the viewer-side state of one document.
// ServerVersion always tracks the latest content pushed by the server;
// LocalDraft is only ever replaced by the user.
type EditBuffer struct {
	Key             core.Key
	ServerVersion   any
	LocalDraft      any
	HasDraft        bool
	DeletedUpstream bool
	State           BufferState
	// revision counts edits so a save can tell whether the draft moved while in flight.
	revision uint64
}

// View is what a viewer renders for a document.
type View struct {
	Key core.Key
	// Data is the draft when there is one, the server version otherwise.
	Data            any
	ServerVersion   any
	State           BufferState
	Dirty           bool
	DeletedUpstream bool
}

func (b *EditBuffer) view() View {
	v := View{
		Key:             b.Key,
		Data:            b.ServerVersion,
		ServerVersion:   b.ServerVersion,
		State:           b.State,
		Dirty:           b.HasDraft,
		DeletedUpstream: b.DeletedUpstream,
	}
	if b.HasDraft {
		v.Data = b.LocalDraft
	}
	return v
}
