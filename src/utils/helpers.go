package utils

import (
	"crypto/rand"
	"fmt"
	"time"
	"tourbook/src/config"
)

const (
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceLength   = 6
)

// GenerateReference returns prefix followed by six characters drawn from an
// alphabet without look-alike characters (0/O, 1/I).
func GenerateReference(prefix string) (string, error) {
	b := make([]byte, referenceLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// 256 is a multiple of the alphabet size, so the modulo is unbiased.
	for i := range b {
		b[i] = referenceAlphabet[int(b[i])%len(referenceAlphabet)]
	}
	return prefix + string(b), nil
}

// TourStart combines a slot date with the tour's local start time.
func TourStart(date, startTime string, loc *time.Location) (time.Time, error) {
	if startTime == "" {
		startTime = "00:00"
	}
	t, err := time.ParseInLocation(fmt.Sprint(config.DATE_FORMAT, " 15:04"), date+" "+startTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid tour date %q: %w", date, err)
	}
	return t, nil
}

// IsBookableDate reports whether date is well-formed and not earlier than
// today in loc.
func IsBookableDate(date string, now time.Time, loc *time.Location) bool {
	d, err := time.ParseInLocation(config.DATE_FORMAT, date, loc)
	if err != nil {
		return false
	}
	y, m, day := now.In(loc).Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, loc)
	return !d.Before(today)
}
