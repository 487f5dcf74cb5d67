package battlelog

import (
	"math"
	"strconv"
	"strings"
)

// HP is one decoded damage value.
type HP struct {
	Total        int
	Piercing     int
	Normal       int
	Critical     int
	StatusCode   string
	StatusAmount int
}

// statusBuckets maps a status code letter to its damage bucket.
var statusBuckets = map[string]string{
	"P": BucketPoison,
	"S": BucketParalysis,
	"F": BucketPanic,
	"H": BucketHallucinations,
	"Z": BucketZombification,
}

// ParseHP decodes the HP attribute grammar:
//
//	N            plain damage
//	0:N          normal damage
//	K:N          typed damage, K=1 critical, K=2 piercing, anything else normal
//	AP:N:CodeX   piercing, normal and a status effect of X
//	0:CodeX      pure damage over time
func ParseHP(s string) HP {
	var hp HP

	parts := strings.Split(strings.TrimSpace(s), ":")
	switch len(parts) {
	case 1:
		hp.Normal = toInt(parts[0])
	case 2:
		if startsWithLetter(parts[1]) {
			hp.StatusCode, hp.StatusAmount = parseStatus(parts[1])
			break
		}
		value := toInt(parts[1])
		switch toInt(parts[0]) {
		case 1:
			hp.Critical = value
		case 2:
			hp.Piercing = value
		default:
			hp.Normal = value
		}
	default:
		hp.Piercing = toInt(parts[0])
		hp.Normal = toInt(parts[1])
		if startsWithLetter(parts[2]) {
			hp.StatusCode, hp.StatusAmount = parseStatus(parts[2])
		}
	}

	hp.Total = hp.Piercing + hp.Normal + hp.Critical + abs(hp.StatusAmount)
	return hp
}

// Buckets returns the non zero damage components keyed by bucket name.
func (hp HP) Buckets() map[string]int {
	out := make(map[string]int, 4)
	if hp.Normal != 0 {
		out[BucketHP] = hp.Normal
	}
	if hp.Piercing != 0 {
		out[BucketPiercing] = hp.Piercing
	}
	if hp.Critical != 0 {
		out[BucketCritical] = hp.Critical
	}
	if name, ok := statusBuckets[hp.StatusCode]; ok && hp.StatusAmount != 0 {
		out[name] = abs(hp.StatusAmount)
	}
	return out
}

func parseStatus(s string) (string, int) {
	i := 0
	for i < len(s) && isLetter(s[i]) {
		i++
	}
	return strings.ToUpper(s[:i]), toInt(s[i:])
}

func startsWithLetter(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && isLetter(s[0])
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// toInt coerces a numeric attribute, truncating decimals. Anything else is 0.
func toInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

func toInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
