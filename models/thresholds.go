package models

// Thresholds are inclusive: a count equal to a threshold has crossed it.
type Thresholds struct {
	Warning  int
	Critical int
}
