package record

import "maps"

// Metadata is the immutable (properties, value, operation) triple that
// travels alongside every appended record.
type Metadata struct {
	properties map[string]string
	value      string
	operation  string
}

// NewMetadata builds a Metadata with the given value, operation, and
// property bag. The property map is copied so the result stays immutable.
func NewMetadata(value, operation string, properties map[string]string) Metadata {
	props := make(map[string]string, len(properties))
	maps.Copy(props, properties)
	return Metadata{properties: props, value: value, operation: operation}
}

// EmptyMetadata is the null/empty Metadata instance.
func EmptyMetadata() Metadata {
	return Metadata{}
}

// IsEmpty reports whether m carries no value, operation, or properties.
func (m Metadata) IsEmpty() bool {
	return m.value == "" && m.operation == "" && len(m.properties) == 0
}

func (m Metadata) Value() string     { return m.value }
func (m Metadata) Operation() string { return m.operation }

// Property looks up a single property by name.
func (m Metadata) Property(name string) (string, bool) {
	v, ok := m.properties[name]
	return v, ok
}

// Properties returns a copy of the property bag.
func (m Metadata) Properties() map[string]string {
	out := make(map[string]string, len(m.properties))
	maps.Copy(out, m.properties)
	return out
}

// WithProperty returns a new Metadata with the given property set,
// leaving the receiver unmodified.
func (m Metadata) WithProperty(name, value string) Metadata {
	props := m.Properties()
	props[name] = value
	return Metadata{properties: props, value: m.value, operation: m.operation}
}

// Equal reports whether two Metadata values carry the same triple.
func (m Metadata) Equal(other Metadata) bool {
	if m.value != other.value || m.operation != other.operation {
		return false
	}
	if len(m.properties) != len(other.properties) {
		return false
	}
	for k, v := range m.properties {
		if other.properties[k] != v {
			return false
		}
	}
	return true
}
