package pagination

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MinLimit is the smallest page any listing returns.
	MinLimit = 1
	// MaxLimit caps how many rows any listing can request.
	MaxLimit = 100
)

// ClampLimit forces an explicit limit into [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitOrDefault clamps limit when it was supplied, otherwise returns DefaultLimit.
func LimitOrDefault(limit *int) int {
	if limit == nil {
		return DefaultLimit
	}
	return ClampLimit(*limit)
}
