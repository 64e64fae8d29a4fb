// Package ratemodel computes integer send-volume splits.
//
// Distribute is the single primitive the planner layers recursively:
// day total → per-sender, sender total → per-hour, hour count → per-minute.
// It is deterministic for identical inputs so plan regeneration with the
// same seed reproduces the same plan.
package ratemodel

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
)

// ErrInvalidDistribution means the max-share cap makes it impossible to
// place the full total (maxSharePct × buckets < 100%). Surfaced to the user
// as a configuration error before any plan is committed.
var ErrInvalidDistribution = errors.New("max share cap cannot place the full total across buckets")

// Seed derives a reproducible PRNG seed for one distribution level of one
// campaign-day. Same inputs, same seed, same plan.
func Seed(campaignID string, day int, level string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d:%s", campaignID, day, level)
	return int64(h.Sum64())
}

// Distribute splits total into len(weights) non-negative integer buckets.
//
// A proportional baseline is computed from weights (non-positive weights are
// treated as zero; an all-zero weight vector means equal shares), each bucket
// is perturbed by up to intensity × baseline using a seeded offset, clamped
// to ceil(total × maxSharePct / 100), and the rounding remainder is then
// reconciled into the buckets with the most slack below their cap. The
// returned buckets always sum exactly to total.
func Distribute(total int, weights []float64, maxSharePct, intensity float64, seed int64) ([]int, error) {
	n := len(weights)
	if n == 0 {
		return nil, fmt.Errorf("distribute: no buckets")
	}
	if total < 0 {
		return nil, fmt.Errorf("distribute: negative total %d", total)
	}
	if maxSharePct <= 0 || maxSharePct > 100 {
		return nil, fmt.Errorf("distribute: max share %g%% out of range", maxSharePct)
	}
	if intensity < 0 || intensity > 1 {
		return nil, fmt.Errorf("distribute: intensity %g out of range", intensity)
	}
	if maxSharePct*float64(n) < 100 {
		return nil, fmt.Errorf("%w: %d buckets × %g%%", ErrInvalidDistribution, n, maxSharePct)
	}

	buckets := make([]int, n)
	if total == 0 {
		return buckets, nil
	}

	maxPer := int(math.Ceil(float64(total) * maxSharePct / 100))

	sumW := 0.0
	for _, w := range weights {
		if w > 0 {
			sumW += w
		}
	}

	for i := 0; i < n; i++ {
		var baseline float64
		if sumW > 0 {
			w := weights[i]
			if w < 0 {
				w = 0
			}
			baseline = w / sumW * float64(total)
		} else {
			baseline = float64(total) / float64(n)
		}

		v := baseline
		if intensity > 0 {
			// Per-bucket PRNG stream so reordering-insensitive and stable.
			rng := rand.New(rand.NewSource(seed + int64(i)*0x9e3779b9))
			v += (rng.Float64()*2 - 1) * intensity * baseline
		}

		b := int(math.Floor(v))
		if b < 0 {
			b = 0
		}
		if b > maxPer {
			b = maxPer
		}
		buckets[i] = b
	}

	reconcile(buckets, total, maxPer)
	return buckets, nil
}

// reconcile adjusts buckets in place until they sum exactly to total,
// adding to the buckets with the most slack below cap and removing from the
// largest buckets. Deterministic: ties break on the lowest index.
func reconcile(buckets []int, total, maxPer int) {
	sum := 0
	for _, b := range buckets {
		sum += b
	}

	for sum < total {
		order := indexesBySlack(buckets, maxPer)
		if len(order) == 0 {
			return // unreachable when n×cap >= total
		}
		// Spread evenly across eligible buckets, then unit-fill by slack.
		deficit := total - sum
		per := deficit / len(order)
		for _, i := range order {
			add := per
			if slack := maxPer - buckets[i]; add > slack {
				add = slack
			}
			buckets[i] += add
			sum += add
		}
		for _, i := range order {
			if sum >= total {
				break
			}
			if buckets[i] < maxPer {
				buckets[i]++
				sum++
			}
		}
	}

	for sum > total {
		order := indexesByValue(buckets)
		excess := sum - total
		per := excess / len(order)
		for _, i := range order {
			sub := per
			if sub > buckets[i] {
				sub = buckets[i]
			}
			buckets[i] -= sub
			sum -= sub
		}
		for _, i := range order {
			if sum <= total {
				break
			}
			if buckets[i] > 0 {
				buckets[i]--
				sum--
			}
		}
	}
}

func indexesBySlack(buckets []int, maxPer int) []int {
	var idx []int
	for i, b := range buckets {
		if b < maxPer {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return buckets[idx[a]] < buckets[idx[b]]
	})
	return idx
}

func indexesByValue(buckets []int) []int {
	var idx []int
	for i, b := range buckets {
		if b > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return buckets[idx[a]] > buckets[idx[b]]
	})
	return idx
}

// EqualWeights returns a weight vector of n equal shares.
func EqualWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
