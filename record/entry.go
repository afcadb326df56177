package record

// PayloadKind discriminates an Entry's/State's wire representation.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadBinary
)

func (k PayloadKind) String() string {
	if k == PayloadBinary {
		return "binary"
	}
	return "text"
}

// Entry is the persisted unit the journal stores: an envelope around a
// serialized record. Entry is immutable once constructed; the journal is
// the only component allowed to assign GlobalPosition.
type Entry struct {
	ID             string
	GlobalPosition int64
	Type           string // symbolic type name, per the type mapper
	TypeVersion    int
	Kind           PayloadKind
	DataText       string
	DataBinary     []byte
	StreamVersion  int // 1-based index within its stream
	Metadata       Metadata
}

// NewTextEntry builds the persisted form of a record serialized as text:
// id, symbolic type, type-version, payload, stream-version, metadata.
// GlobalPosition is assigned later, by the journal, at commit time.
func NewTextEntry(id, symbolicType string, typeVersion int, data string, streamVersion int, metadata Metadata) Entry {
	return Entry{
		ID:            id,
		Type:          symbolicType,
		TypeVersion:   typeVersion,
		Kind:          PayloadText,
		DataText:      data,
		StreamVersion: streamVersion,
		Metadata:      metadata,
	}
}

// NewBinaryEntry is NewTextEntry's binary-payload counterpart.
func NewBinaryEntry(id, symbolicType string, typeVersion int, data []byte, streamVersion int, metadata Metadata) Entry {
	return Entry{
		ID:            id,
		Type:          symbolicType,
		TypeVersion:   typeVersion,
		Kind:          PayloadBinary,
		DataBinary:    data,
		StreamVersion: streamVersion,
		Metadata:      metadata,
	}
}

// WithGlobalPosition returns a copy of the entry stamped with the journal's
// assigned global position. Used only by journal implementations.
func (e Entry) WithGlobalPosition(pos int64) Entry {
	e.GlobalPosition = pos
	return e
}

// DataAsText returns the entry's payload as text, decoding binary payloads
// as-is (callers that need a specific encoding should check Kind first).
func (e Entry) DataAsText() string {
	if e.Kind == PayloadBinary {
		return string(e.DataBinary)
	}
	return e.DataText
}

// DataAsBytes returns the entry's payload as bytes.
func (e Entry) DataAsBytes() []byte {
	if e.Kind == PayloadBinary {
		return e.DataBinary
	}
	return []byte(e.DataText)
}

// IsEmpty reports whether the entry carries no payload at all — the
// zero-value Entry, used to signal "no entry" without a pointer.
func (e Entry) IsEmpty() bool {
	return e.ID == "" && e.Type == ""
}
