package eventq

import "fmt"

// Source identifies the external system that produced an event. The set is
// closed: adding a source is a reviewed code change, not a runtime value.
type Source string

const (
	// SourceTeamwork is the Teamwork project management system.
	SourceTeamwork Source = "teamwork"
	// SourceMissive is the Missive shared inbox system.
	SourceMissive Source = "missive"
	// SourceCraft is the Craft estimating system.
	SourceCraft Source = "craft"
)

// Sources returns all known sources in stable order.
func Sources() []Source {
	return []Source{SourceTeamwork, SourceMissive, SourceCraft}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceTeamwork, SourceMissive, SourceCraft:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s Source) String() string {
	return string(s)
}

// ParseSource converts raw text to a known Source.
func ParseSource(raw string) (Source, error) {
	source := Source(raw)
	if !source.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
	}

	return source, nil
}
