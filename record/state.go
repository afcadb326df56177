package record

// StateKind discriminates a snapshot's wire representation. Unlike Entry,
// State additionally allows an in-memory "object" variant for snapshots
// that are never meant to round-trip through storage (e.g. a snapshot
// captured and consumed inside the same process without serialization).
type StateKind int

const (
	StateText StateKind = iota
	StateBinary
	StateObject
)

// State is the persisted snapshot form mirroring Entry but for aggregate
// state rather than records.
type State struct {
	ID           string
	Type         string
	TypeVersion  int
	Kind         StateKind
	DataText     string
	DataBinary   []byte
	DataObject   any
	StateVersion int // stream-version at which the snapshot was taken
	Metadata     Metadata
}

// NewTextState builds a text-payload snapshot.
func NewTextState(id, typ string, typeVersion int, data string, stateVersion int, metadata Metadata) State {
	return State{ID: id, Type: typ, TypeVersion: typeVersion, Kind: StateText, DataText: data, StateVersion: stateVersion, Metadata: metadata}
}

// NewBinaryState builds a binary-payload snapshot.
func NewBinaryState(id, typ string, typeVersion int, data []byte, stateVersion int, metadata Metadata) State {
	return State{ID: id, Type: typ, TypeVersion: typeVersion, Kind: StateBinary, DataBinary: data, StateVersion: stateVersion, Metadata: metadata}
}

// NewObjectState builds an in-memory-object snapshot, bypassing
// serialization entirely; useful for the in-memory journal, which can
// hold the aggregate's last-folded state directly.
func NewObjectState(id, typ string, typeVersion int, data any, stateVersion int, metadata Metadata) State {
	return State{ID: id, Type: typ, TypeVersion: typeVersion, Kind: StateObject, DataObject: data, StateVersion: stateVersion, Metadata: metadata}
}

// IsEmpty reports whether the snapshot is the zero value, i.e. "no
// snapshot exists for this stream".
func (s State) IsEmpty() bool {
	return s.ID == "" && s.Type == "" && s.DataObject == nil
}

func (s State) DataAsText() string {
	switch s.Kind {
	case StateBinary:
		return string(s.DataBinary)
	default:
		return s.DataText
	}
}

func (s State) DataAsBytes() []byte {
	switch s.Kind {
	case StateBinary:
		return s.DataBinary
	default:
		return []byte(s.DataText)
	}
}
