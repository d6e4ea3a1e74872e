//go:build !linux

package primitive

func newEventFD(bool) (Event, error) {
	return nil, ErrUnsupportedKind
}
