package reservation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/cellwarden/internal/fault"
)

const (
	// DefaultMinutes is applied when a borrow asks for zero minutes.
	DefaultMinutes = 120
	// MaxMinutes caps any single reservation at one day.
	MaxMinutes = 1440
	// DefaultSpec is the topology used when a borrow carries no spec.
	DefaultSpec = "3+1"
)

var (
	userPattern = regexp.MustCompile(`^[\w.-]+$`)
	specPattern = regexp.MustCompile(`^(\d{1,2}\+[01]|\d{1,2}\+\d{1,2}\+[01])$`)
)

// Reservation binds one cell to one user for a bounded window.
type Reservation struct {
	CellName string
	UserName string
	Start    time.Time
	Duration int
	Spec     string
}

// Deadline is the instant the reservation stops being valid.
func (r Reservation) Deadline() time.Time {
	return r.Start.Add(time.Duration(r.Duration) * time.Minute)
}

// Expired reports whether now is strictly past the deadline.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.Deadline())
}

// Validate checks a record before it is persisted.
func (r Reservation) Validate() error {
	if strings.TrimSpace(r.CellName) == "" || strings.ContainsAny(r.CellName, "\t\n") {
		return fmt.Errorf("%w: reservation: invalid cell name %q", fault.ErrInvalidArgument, r.CellName)
	}
	if err := ValidateUser(r.UserName); err != nil {
		return err
	}
	if r.Duration <= 0 || r.Duration > MaxMinutes {
		return fmt.Errorf("%w: reservation: duration %d out of range", fault.ErrInvalidArgument, r.Duration)
	}
	return ValidateSpec(r.Spec)
}

// ValidateUser enforces the user name grammar.
func ValidateUser(user string) error {
	if !userPattern.MatchString(user) {
		return fmt.Errorf("%w: invalid user name %q", fault.ErrInvalidArgument, user)
	}
	return nil
}

// ValidateSpec enforces the topology grammar: N+F or N+M+F, N and M one or two digits, F 0 or 1.
func ValidateSpec(spec string) error {
	if !specPattern.MatchString(spec) {
		return fmt.Errorf("%w: invalid cell spec %q", fault.ErrInvalidArgument, spec)
	}
	return nil
}

// ValidateMinutes enforces 0 <= minutes <= MaxMinutes.
func ValidateMinutes(minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("%w: number of minutes must be non-negative", fault.ErrInvalidArgument)
	}
	if minutes > MaxMinutes {
		return fmt.Errorf("%w: number of minutes must be at most %d", fault.ErrInvalidArgument, MaxMinutes)
	}
	return nil
}

// Encode renders the durable text form: cell, user, start millis, minutes, spec,
// tab separated and newline terminated.
func (r Reservation) Encode() string {
	return fmt.Sprintf("%s\t%s\t%d\t%d\t%s\n",
		r.CellName, r.UserName, r.Start.UnixMilli(), r.Duration, r.Spec)
}

// Decode parses the form produced by Encode.
func Decode(raw string) (Reservation, error) {
	fields := strings.Split(strings.TrimRight(raw, "\r\n"), "\t")
	if len(fields) != 5 {
		return Reservation{}, fmt.Errorf("%w: reservation: expected 5 fields, got %d", fault.ErrIO, len(fields))
	}
	millis, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: reservation: bad start %q: %v", fault.ErrIO, fields[2], err)
	}
	minutes, err := strconv.Atoi(fields[3])
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: reservation: bad duration %q: %v", fault.ErrIO, fields[3], err)
	}
	return Reservation{
		CellName: fields[0],
		UserName: fields[1],
		Start:    time.UnixMilli(millis),
		Duration: minutes,
		Spec:     fields[4],
	}, nil
}
