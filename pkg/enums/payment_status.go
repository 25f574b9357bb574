package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus tracks a kiosk payment through compensation. Values are stored
// verbatim and shared with the kiosk dashboards.
type PaymentStatus string

const (
	PaymentStatusPaid          PaymentStatus = "PAGO"
	PaymentStatusRefundPending PaymentStatus = "ESTORNO_PENDENTE"
	PaymentStatusRefunded      PaymentStatus = "ESTORNADO"
	PaymentStatusRefundFailed  PaymentStatus = "ESTORNO_FALHOU"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPaid,
	PaymentStatusRefundPending,
	PaymentStatusRefunded,
	PaymentStatusRefundFailed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus, ignoring case.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
