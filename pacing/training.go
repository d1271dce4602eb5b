package pacing

import (
	"sync"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
)

// TrainingIterations is the number of maximum-burst iterations the
// rate-limiter training submits before solving for pad_interval.
const TrainingIterations = 30

// BurstFunc submits the maximum burst for one training iteration and
// reports how many packets/second the NIC rate-limiter sustained.
type BurstFunc func() (packetsPerSecond float64, err error)

// trainingCache shares trained pad_interval values across co-located
// sessions keyed by (port, target-bps), the teacher idiom of
// content-addressed caching via xxhash.
type trainingCache struct {
	mu    sync.Mutex
	cache map[uint64]int
}

var globalTrainingCache = &trainingCache{cache: make(map[uint64]int)}

// Train computes pad_interval for the given port/target bitrate:
// packetBits is the bit size of one payload packet on the wire. It runs
// burst for TrainingIterations to measure the NIC rate-limiter's maximum
// sustained packet rate, then solves for the pad-insertion rate that
// brings the effective payload rate down to exactly targetBps. Idempotent:
// a repeat call with the identical (port, targetBps) returns the cached
// value without invoking burst again.
func Train(port int, targetBps uint64, packetBits float64, burst BurstFunc) (padInterval int, err error) {
	key := cacheKey(port, targetBps)

	globalTrainingCache.mu.Lock()
	if v, ok := globalTrainingCache.cache[key]; ok {
		globalTrainingCache.mu.Unlock()
		return v, nil
	}
	globalTrainingCache.mu.Unlock()

	var measuredPPS float64
	for i := 0; i < TrainingIterations; i++ {
		pps, err := burst()
		if err != nil {
			return 0, mtlerr.Wrap(mtlerr.HardwareError, "pacing.Train", err)
		}
		measuredPPS += pps
	}
	measuredPPS /= TrainingIterations

	if measuredPPS <= 0 || packetBits <= 0 {
		return 0, mtlerr.New(mtlerr.HardwareError, "pacing.Train: zero measured rate")
	}

	payloadPPS := float64(targetBps) / packetBits
	excessPPS := measuredPPS - payloadPPS

	padInterval = 1
	if excessPPS > 0 && payloadPPS > 0 {
		padInterval = int(payloadPPS / excessPPS)
		if padInterval < 1 {
			padInterval = 1
		}
	}

	globalTrainingCache.mu.Lock()
	globalTrainingCache.cache[key] = padInterval
	globalTrainingCache.mu.Unlock()

	return padInterval, nil
}

// ResolveMode applies the per-port pacing-mode fallback rule: Auto
// attempts RateLimit first; a training failure demotes to TSC. Forcing
// both ports of a session to TSC when their modes differ is done by
// ReconcilePortModes, not here.
func ResolveMode(requested Mode, trainFn func() error) Mode {
	switch requested {
	case Auto:
		if trainFn == nil || trainFn() != nil {
			return TSC
		}
		return RateLimit
	case RateLimit:
		if trainFn != nil && trainFn() != nil {
			return TSC
		}
		return RateLimit
	default:
		return requested
	}
}

// ReconcilePortModes forces both ports to TSC when they disagree.
func ReconcilePortModes(a, b Mode) (Mode, Mode) {
	if a != b {
		return TSC, TSC
	}
	return a, b
}
