package enums

import (
	"fmt"
	"strings"
)

// CompensationOutcome maps to compensation_records.outcome.
type CompensationOutcome string

const (
	CompensationPending  CompensationOutcome = "PENDING"
	CompensationRefunded CompensationOutcome = "REFUNDED"
	CompensationFailed   CompensationOutcome = "FAILED"
)

var validCompensationOutcomes = []CompensationOutcome{
	CompensationPending,
	CompensationRefunded,
	CompensationFailed,
}

func (o CompensationOutcome) IsValid() bool {
	for _, candidate := range validCompensationOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ReleaseEventKind identifies device events that prove a paid cycle was delivered.
type ReleaseEventKind string

const (
	ReleaseEventRelease    ReleaseEventKind = "RELEASE"
	ReleaseEventCycleStart ReleaseEventKind = "CYCLE_START"
)

// ParseCompensationOutcome accepts any casing.
func ParseCompensationOutcome(value string) (CompensationOutcome, error) {
	for _, candidate := range validCompensationOutcomes {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid compensation outcome %q", value)
}
