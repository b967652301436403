package sampling

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

// Chain is an ordered sequence of logit transformations followed by a
// final draw from the resulting distribution. It is rebuilt fresh for
// every job (spec §4.2): samplers carry no state across requests.
//
// Stage order mirrors llama.cpp's common sampler chain: penalties first
// (they operate on raw logits keyed by token id), then temperature,
// top-k, top-p, min-p, and finally the distribution draw. When mirostat
// is enabled every stage except penalties and the final draw is
// skipped — mirostat performs its own adaptive truncation.
type Chain struct {
	params     Params
	rng        *rand.Rand
	recent     []int32 // ring of recently emitted tokens, for repeat/presence/frequency penalties
	mirostatMu float64 // running mirostat-v1/v2 surprise estimate, 2*tau at init
}

// NewChain constructs a [Chain] for a single job. eosTokens is unused by
// the chain itself (the worker checks for EOS independently) but is
// accepted for symmetry with the backend's sampling entry point.
func NewChain(p Params, eosTokens []int32) *Chain {
	var seed int64
	if p.Seed != nil {
		seed = int64(*p.Seed)
	} else {
		seed = time.Now().UnixNano()
	}
	return &Chain{
		params:     p,
		rng:        rand.New(rand.NewSource(seed)),
		mirostatMu: 2 * p.MirostatTau,
	}
}

// candidate is a single vocabulary entry under consideration.
type candidate struct {
	id     int32
	logit  float32
	prob   float64
}

// Sample selects the next token id from logits, a dense per-vocabulary
// score slice indexed by token id. It applies the configured chain and
// then appends the chosen token to the penalty window.
func (c *Chain) Sample(logits []float32) int32 {
	cands := make([]candidate, len(logits))
	for i, l := range logits {
		cands[i] = candidate{id: int32(i), logit: l}
	}

	c.applyPenalties(cands)

	var chosen int32
	if c.params.Mirostat != MirostatOff {
		chosen = c.sampleMirostat(cands)
	} else {
		c.applyTemperature(cands)
		softmax(cands)
		cands = c.applyTopK(cands)
		cands = c.applyTopP(cands)
		cands = c.applyMinP(cands)
		chosen = c.draw(cands)
	}

	c.remember(chosen)
	return chosen
}

func (c *Chain) applyPenalties(cands []candidate) {
	if len(c.recent) == 0 {
		return
	}
	window := c.recent
	if c.params.RepeatLastN > 0 && len(window) > c.params.RepeatLastN {
		window = window[len(window)-c.params.RepeatLastN:]
	}
	counts := make(map[int32]int, len(window))
	seen := make(map[int32]bool, len(window))
	for _, t := range window {
		counts[t]++
		seen[t] = true
	}
	for i := range cands {
		id := cands[i].id
		if !seen[id] {
			continue
		}
		if c.params.RepeatPenalty != 1.0 {
			if cands[i].logit > 0 {
				cands[i].logit /= float32(c.params.RepeatPenalty)
			} else {
				cands[i].logit *= float32(c.params.RepeatPenalty)
			}
		}
		cands[i].logit -= float32(c.params.FrequencyPenalty) * float32(counts[id])
		cands[i].logit -= float32(c.params.PresencePenalty)
	}
}

func (c *Chain) applyTemperature(cands []candidate) {
	t := c.params.Temperature
	if t <= 0 {
		// Greedy: collapse to the single best logit, handled by draw's
		// degenerate softmax (one candidate at probability 1).
		best := 0
		for i := range cands {
			if cands[i].logit > cands[best].logit {
				best = i
			}
		}
		for i := range cands {
			if i == best {
				cands[i].logit = 0
			} else {
				cands[i].logit = float32(math.Inf(-1))
			}
		}
		return
	}
	for i := range cands {
		cands[i].logit /= float32(t)
	}
}

func softmax(cands []candidate) {
	maxLogit := float32(math.Inf(-1))
	for _, c := range cands {
		if c.logit > maxLogit {
			maxLogit = c.logit
		}
	}
	var sum float64
	for i := range cands {
		p := math.Exp(float64(cands[i].logit - maxLogit))
		cands[i].prob = p
		sum += p
	}
	if sum == 0 {
		return
	}
	for i := range cands {
		cands[i].prob /= sum
	}
}

func (c *Chain) applyTopK(cands []candidate) []candidate {
	k := c.params.TopK
	if k <= 0 || k >= len(cands) {
		return sortedByProb(cands)
	}
	sorted := sortedByProb(cands)
	return sorted[:k]
}

func (c *Chain) applyTopP(cands []candidate) []candidate {
	p := c.params.TopP
	if p >= 1.0 {
		return cands
	}
	sorted := sortedByProb(cands)
	var cum float64
	cut := len(sorted)
	for i, cand := range sorted {
		cum += cand.prob
		if cum >= p {
			cut = i + 1
			break
		}
	}
	return sorted[:cut]
}

func (c *Chain) applyMinP(cands []candidate) []candidate {
	minP := c.params.MinP
	if minP <= 0 {
		return cands
	}
	var maxProb float64
	for _, cand := range cands {
		if cand.prob > maxProb {
			maxProb = cand.prob
		}
	}
	threshold := minP * maxProb
	out := cands[:0:0]
	for _, cand := range cands {
		if cand.prob >= threshold {
			out = append(out, cand)
		}
	}
	if len(out) == 0 {
		return cands
	}
	return out
}

func sortedByProb(cands []candidate) []candidate {
	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].prob > sorted[j].prob })
	return sorted
}

func (c *Chain) draw(cands []candidate) int32 {
	if len(cands) == 0 {
		return 0
	}
	var sum float64
	for _, cand := range cands {
		sum += cand.prob
	}
	if sum <= 0 {
		return cands[0].id
	}
	r := c.rng.Float64() * sum
	var acc float64
	for _, cand := range cands {
		acc += cand.prob
		if r <= acc {
			return cand.id
		}
	}
	return cands[len(cands)-1].id
}

// sampleMirostat implements mirostat v1/v2: it maintains a running
// estimate of corpus surprise mu and truncates the distribution to
// tokens whose surprise is below mu before drawing.
func (c *Chain) sampleMirostat(cands []candidate) int32 {
	sorted := sortedByProb(append([]candidate(nil), cands...))
	softmax(sorted)

	k := len(sorted)
	for i, cand := range sorted {
		surprise := -math.Log2(math.Max(cand.prob, 1e-12))
		if surprise > c.mirostatMu {
			k = i
			break
		}
	}
	if k == 0 {
		k = 1
	}
	truncated := sorted[:k]
	softmax(truncated)
	chosen := c.draw(truncated)

	for _, cand := range truncated {
		if cand.id == chosen {
			observed := -math.Log2(math.Max(cand.prob, 1e-12))
			c.mirostatMu -= c.params.MirostatEta * (observed - c.params.MirostatTau)
			break
		}
	}
	return chosen
}

func (c *Chain) remember(token int32) {
	c.recent = append(c.recent, token)
	max := c.params.RepeatLastN
	if max <= 0 {
		max = 256
	}
	if len(c.recent) > max*2 {
		c.recent = c.recent[len(c.recent)-max:]
	}
}
