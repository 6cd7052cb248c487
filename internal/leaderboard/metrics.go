package leaderboard

import "math"

// MaskAPIKey hides the middle of an API key for shared views. Keys of up to
// 8 characters keep their first and last 2; longer keys keep the first 4 and
// last 2.
func MaskAPIKey(apiKeyID string) string {
	r := []rune(apiKeyID)
	head := 4
	if len(r) <= 8 {
		head = 2
	}
	return string(r[:min(head, len(r))]) + "..." + string(r[max(len(r)-2, 0):])
}

// CacheRate is the share of input tokens served from cache, as a percentage
// rounded to 2 decimals. It is 0 when there was no input.
func CacheRate(cacheRead, uncached int64) float64 {
	total := cacheRead + uncached
	if total == 0 {
		return 0
	}
	return round2(float64(cacheRead) / float64(total) * 100)
}

// Efficiency is output tokens per input token (cached or not), as a
// percentage rounded to 2 decimals. It is 0 when there was no input.
func Efficiency(output, uncached, cacheRead int64) float64 {
	total := uncached + cacheRead
	if total == 0 {
		return 0
	}
	return round2(float64(output) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
