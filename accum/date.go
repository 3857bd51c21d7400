package accum

import (
	"fmt"
	"strconv"
)

// MalformedDateError is returned for a published date that does not start
// with "YYYY-MM".
type MalformedDateError struct {
	Published string
	Reason    string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed published date %q: %s", e.Published, e.Reason)
}

// ParsePublished extracts the year and month from an ISO date such as
// "2019-01-02T15:29Z". Only the "YYYY-MM" prefix is looked at.
func ParsePublished(s string) (year, month int, err error) {
	if len(s) < 7 {
		return 0, 0, &MalformedDateError{Published: s, Reason: "too short"}
	}
	if s[4] != '-' {
		return 0, 0, &MalformedDateError{Published: s, Reason: "missing '-' after the year"}
	}
	if year, err = digits(s[0:4]); err != nil {
		return 0, 0, &MalformedDateError{Published: s, Reason: "invalid year"}
	}
	if month, err = digits(s[5:7]); err != nil {
		return 0, 0, &MalformedDateError{Published: s, Reason: "invalid month"}
	}
	if month < 1 || month > 12 {
		return 0, 0, &MalformedDateError{Published: s, Reason: fmt.Sprintf("month %d out of range", month)}
	}
	return year, month, nil
}

// digits accepts ASCII digits only; strconv.Atoi alone would let "+1" or
// "-1" through.
func digits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}
