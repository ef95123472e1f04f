package service

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	codeMin = 100000
	codeMax = 999999
)

// GenerateCode returns a uniformly random 6-digit code. The range starts at
// 100000 so the code never has a leading zero.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// Expiry returns the moment a code issued at now stops being valid.
func Expiry(now time.Time, d time.Duration) time.Time {
	return now.Add(d)
}
