package flashlog

import "fmt"

// Policy is the response to a full region.
type Policy int

const (
	// RejectWhenFull drops the reading, reports ErrRegionFull and keeps logging other channels.
	RejectWhenFull Policy = iota
	// DumpAndHalt dumps every channel to the console and ends the session.
	DumpAndHalt
)

func (p Policy) String() string {
	switch p {
	case RejectWhenFull:
		return "reject"
	case DumpAndHalt:
		return "halt"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "reject" or "halt".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "reject":
		return RejectWhenFull, nil
	case "halt":
		return DumpAndHalt, nil
	default:
		return 0, fmt.Errorf("unknown full policy %q (want reject or halt)", s)
	}
}
