package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status describes the outcome of a recognition or translation attempt.
type Status int

const (
	// StatusUnknown is the zero value. The adapter never produces it.
	StatusUnknown Status = iota
	StatusSuccess
	StatusNoMatch
	StatusInitialSilenceTimeout
	StatusInitialBabbleTimeout
	StatusError
	StatusCanceled
)

var statusNames = map[Status]string{
	StatusUnknown:               "Unknown",
	StatusSuccess:               "Success",
	StatusNoMatch:               "NoMatch",
	StatusInitialSilenceTimeout: "InitialSilenceTimeout",
	StatusInitialBabbleTimeout:  "InitialBabbleTimeout",
	StatusError:                 "Error",
	StatusCanceled:              "Canceled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus resolves a status name, ignoring case.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.TrimSpace(name)
	for status, candidate := range statusNames {
		if strings.EqualFold(candidate, trimmed) {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown recognition status %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
