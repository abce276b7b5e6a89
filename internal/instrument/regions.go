package instrument

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRegionImbalance is returned when a try region closes without a matching
// open marker.
var ErrRegionImbalance = errors.New("unbalanced try region")

// RegionStack tracks the open try regions of a method body.
type RegionStack struct {
	open []string
}

// Push opens a region identified by its start label suffix.
func (s *RegionStack) Push(id string) {
	s.open = append(s.open, id)
}

// Pop closes the innermost region, which must carry the same id.
func (s *RegionStack) Pop(id string) error {
	if len(s.open) == 0 {
		return fmt.Errorf("%w: %q closed with no region open", ErrRegionImbalance, id)
	}
	top := s.open[len(s.open)-1]
	if top != id {
		return fmt.Errorf("%w: %q closed while %q is open", ErrRegionImbalance, id, top)
	}
	s.open = s.open[:len(s.open)-1]
	return nil
}

// Depth returns the number of open regions.
func (s *RegionStack) Depth() int { return len(s.open) }

// Inside reports whether any region is open.
func (s *RegionStack) Inside() bool { return len(s.open) > 0 }

// regionMarker classifies a label line as a try start or end marker and
// returns its id ("try_start_3" -> "3").
func regionMarker(label string) (start bool, id string, ok bool) {
	l := strings.TrimPrefix(strings.TrimSpace(label), ":")
	if rest, found := strings.CutPrefix(l, "try_start_"); found {
		return true, rest, true
	}
	if rest, found := strings.CutPrefix(l, "try_end_"); found {
		return false, rest, true
	}
	return false, "", false
}

// track applies a label line to the stack.
func (s *RegionStack) track(label string) error {
	start, id, ok := regionMarker(label)
	if !ok {
		return nil
	}
	if start {
		s.Push(id)
		return nil
	}
	return s.Pop(id)
}
