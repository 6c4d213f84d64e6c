package pool

import (
	"math/rand/v2"

	"github.com/dirigent-io/dirigent/pkg/agent"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// minWeight floors the weighted-round-robin weight so a cold or struggling
// instance still receives a trickle of work.
const minWeight = 0.1

// candidate pairs an instance with the status snapshot the selection ran
// against, so selection and hand-off agree on what was seen.
type candidate struct {
	inst   *agent.Instance
	status agent.InstanceStatus
}

// instanceLoad is the composite load of a single instance. A running task
// counts as one unit and each queued task as half, on top of the lifetime
// busy fraction.
func instanceLoad(s agent.InstanceStatus) float64 {
	load := s.Utilization + float64(s.QueueLength)*0.5
	if s.Busy() {
		load++
	}
	return load
}

// connectionCount is queue depth plus the in-flight task.
func connectionCount(s agent.InstanceStatus) int {
	n := s.QueueLength
	if s.Busy() {
		n++
	}
	return n
}

// instanceWeight scores an instance for weighted random selection. Success
// rate weighs heaviest, then result quality and idle headroom.
func instanceWeight(s agent.InstanceStatus) float64 {
	w := 0.4*s.SuccessRate + 0.3*s.AvgQuality + 0.3*(1-s.Utilization)
	if w < minWeight {
		w = minWeight
	}
	return w
}

// averageLoad is the pool-level load the auto-scaler compares against its
// thresholds: the mean composite load across live instances.
func averageLoad(cands []candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range cands {
		total += instanceLoad(c.status)
	}
	return total / float64(len(cands))
}

func countIdle(cands []candidate) int {
	n := 0
	for _, c := range cands {
		if c.status.State == models.InstanceIdle {
			n++
		}
	}
	return n
}

// selectCandidate applies a load balancing strategy to the candidate set and
// returns the chosen index. rr is the round-robin cursor, owned and advanced
// by the caller; selection itself mutates nothing.
func selectCandidate(strategy models.LoadBalancingStrategy, cands []candidate, rr uint64) int {
	switch strategy {
	case models.StrategyRoundRobin:
		return int(rr % uint64(len(cands)))
	case models.StrategyRandom:
		return rand.IntN(len(cands))
	case models.StrategyWeightedRoundRobin:
		return selectWeighted(cands)
	case models.StrategyLeastConnections:
		return selectMin(cands, func(s agent.InstanceStatus) float64 {
			return float64(connectionCount(s))
		})
	case models.StrategyResponseTime:
		return selectMin(cands, func(s agent.InstanceStatus) float64 {
			return s.AvgExecutionSeconds
		})
	default:
		// least_loaded, also the fallback for anything unrecognized.
		return selectMin(cands, instanceLoad)
	}
}

// selectMin returns the index with the smallest score. First wins ties.
func selectMin(cands []candidate, score func(agent.InstanceStatus) float64) int {
	best := 0
	bestScore := score(cands[0].status)
	for i := 1; i < len(cands); i++ {
		if s := score(cands[i].status); s < bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// selectWeighted picks an index with probability proportional to the
// instance weight.
func selectWeighted(cands []candidate) int {
	total := 0.0
	for _, c := range cands {
		total += instanceWeight(c.status)
	}
	x := rand.Float64() * total
	for i, c := range cands {
		w := instanceWeight(c.status)
		if x < w {
			return i
		}
		x -= w
	}
	return len(cands) - 1
}
