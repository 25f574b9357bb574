package enums

import (
	"fmt"
	"strings"
)

// AlertStatus maps to alert_outbox.status.
type AlertStatus string

const (
	AlertStatusPending         AlertStatus = "PENDING"
	AlertStatusSent            AlertStatus = "SENT"
	AlertStatusFailedRetryable AlertStatus = "FAILED_RETRYABLE"
)

var validAlertStatuses = []AlertStatus{
	AlertStatusPending,
	AlertStatusSent,
	AlertStatusFailedRetryable,
}

// LiveAlertStatuses are the statuses that block a new alert with the same fingerprint.
var LiveAlertStatuses = []AlertStatus{AlertStatusPending, AlertStatusSent}

func (s AlertStatus) String() string {
	return string(s)
}

func (s AlertStatus) IsValid() bool {
	for _, candidate := range validAlertStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAlertStatus accepts any casing, e.g. "pending" or "Failed_Retryable".
func ParseAlertStatus(value string) (AlertStatus, error) {
	for _, candidate := range validAlertStatuses {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert status %q", value)
}

// DLQStatus maps to alert_dlq.status.
type DLQStatus string

const (
	DLQStatusOpen     DLQStatus = "OPEN"
	DLQStatusResolved DLQStatus = "RESOLVED"
)

var validDLQStatuses = []DLQStatus{DLQStatusOpen, DLQStatusResolved}

func (s DLQStatus) String() string {
	return string(s)
}

func (s DLQStatus) IsValid() bool {
	for _, candidate := range validDLQStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseDLQStatus(value string) (DLQStatus, error) {
	for _, candidate := range validDLQStatuses {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dlq status %q", value)
}

// AlertSeverity grades an operational alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

var validAlertSeverities = []AlertSeverity{SeverityInfo, SeverityWarning, SeverityCritical}

func (s AlertSeverity) IsValid() bool {
	for _, candidate := range validAlertSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseAlertSeverity(value string) (AlertSeverity, error) {
	for _, candidate := range validAlertSeverities {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert severity %q", value)
}

// AlertChannel names the delivery adapter for a message.
type AlertChannel string

const (
	ChannelWebhook AlertChannel = "webhook"
	ChannelPubSub  AlertChannel = "pubsub"
	ChannelLog     AlertChannel = "log"
)

var validAlertChannels = []AlertChannel{ChannelWebhook, ChannelPubSub, ChannelLog}

func (c AlertChannel) IsValid() bool {
	for _, candidate := range validAlertChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseAlertChannel(value string) (AlertChannel, error) {
	for _, candidate := range validAlertChannels {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid alert channel %q", value)
}

// DispatchOutcome is recorded per attempt in alert_dispatch_log.
type DispatchOutcome string

const (
	DispatchOutcomeSent      DispatchOutcome = "SENT"
	DispatchOutcomeFailed    DispatchOutcome = "FAILED"
	DispatchOutcomeEscalated DispatchOutcome = "ESCALATED"
)
