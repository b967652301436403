// Package sampling defines the validated sampling-parameter record and
// the sampler-chain construction described in spec §3 and §4.2: a single
// constructor performs every range check so that downstream code — the
// inference worker — may assume validity.
package sampling

import (
	"fmt"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
)

// Mirostat selects the mirostat sampling mode.
type Mirostat int

const (
	MirostatOff Mirostat = 0
	MirostatV1  Mirostat = 1
	MirostatV2  Mirostat = 2
)

// Raw is the unvalidated, wire-level shape of sampling parameters as they
// arrive from an HTTP request body. Zero values mean "use the default"
// except where noted.
type Raw struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	MinP             *float64 `json:"min_p,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN      *int     `json:"repeat_last_n,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Mirostat         *int     `json:"mirostat,omitempty"`
	MirostatTau      *float64 `json:"mirostat_tau,omitempty"`
	MirostatEta      *float64 `json:"mirostat_eta,omitempty"`
	Seed             *uint64  `json:"seed,omitempty"`
}

// Params is a fully validated sampling configuration. Construction via
// [Validate] is the only way to obtain one; every field is guaranteed to
// satisfy the bounds in spec §3.
type Params struct {
	Temperature      float64
	TopK             int
	TopP             float64
	MinP             float64
	RepeatPenalty    float64
	RepeatLastN      int
	PresencePenalty  float64
	FrequencyPenalty float64
	Mirostat         Mirostat
	MirostatTau      float64
	MirostatEta      float64
	Seed             *uint64 // nil = nondeterministic source
}

// Defaults returns the parameter set used when a request omits sampling
// options entirely.
func Defaults() Params {
	return Params{
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
	}
}

// Validate builds a [Params] from raw, applying defaults for absent
// fields and failing with an [apperr.Error] of kind [apperr.KindValidation]
// on the first out-of-range value encountered.
func Validate(raw Raw) (Params, error) {
	p := Defaults()

	if raw.Temperature != nil {
		if *raw.Temperature < 0 {
			return Params{}, apperr.Field("temperature", fmt.Sprintf("must be >= 0, got %v", *raw.Temperature))
		}
		p.Temperature = *raw.Temperature
	}
	if raw.TopK != nil {
		if *raw.TopK < 0 {
			return Params{}, apperr.Field("top_k", fmt.Sprintf("must be >= 0, got %v", *raw.TopK))
		}
		p.TopK = *raw.TopK
	}
	if raw.TopP != nil {
		if *raw.TopP < 0 || *raw.TopP > 1 {
			return Params{}, apperr.Field("top_p", fmt.Sprintf("must be in [0, 1], got %v", *raw.TopP))
		}
		p.TopP = *raw.TopP
	}
	if raw.MinP != nil {
		if *raw.MinP < 0 || *raw.MinP > 1 {
			return Params{}, apperr.Field("min_p", fmt.Sprintf("must be in [0, 1], got %v", *raw.MinP))
		}
		p.MinP = *raw.MinP
	}
	if raw.RepeatPenalty != nil {
		if *raw.RepeatPenalty <= 0 {
			return Params{}, apperr.Field("repeat_penalty", fmt.Sprintf("must be > 0, got %v", *raw.RepeatPenalty))
		}
		p.RepeatPenalty = *raw.RepeatPenalty
	}
	if raw.RepeatLastN != nil {
		if *raw.RepeatLastN < 0 {
			return Params{}, apperr.Field("repeat_last_n", fmt.Sprintf("must be >= 0, got %v", *raw.RepeatLastN))
		}
		p.RepeatLastN = *raw.RepeatLastN
	}
	if raw.PresencePenalty != nil {
		if *raw.PresencePenalty < -2 || *raw.PresencePenalty > 2 {
			return Params{}, apperr.Field("presence_penalty", fmt.Sprintf("must be in [-2, 2], got %v", *raw.PresencePenalty))
		}
		p.PresencePenalty = *raw.PresencePenalty
	}
	if raw.FrequencyPenalty != nil {
		if *raw.FrequencyPenalty < -2 || *raw.FrequencyPenalty > 2 {
			return Params{}, apperr.Field("frequency_penalty", fmt.Sprintf("must be in [-2, 2], got %v", *raw.FrequencyPenalty))
		}
		p.FrequencyPenalty = *raw.FrequencyPenalty
	}
	if raw.Mirostat != nil {
		switch Mirostat(*raw.Mirostat) {
		case MirostatOff, MirostatV1, MirostatV2:
			p.Mirostat = Mirostat(*raw.Mirostat)
		default:
			return Params{}, apperr.Field("mirostat", fmt.Sprintf("must be 0, 1, or 2, got %v", *raw.Mirostat))
		}
	}
	if raw.MirostatTau != nil {
		if *raw.MirostatTau < 0 {
			return Params{}, apperr.Field("mirostat_tau", fmt.Sprintf("must be >= 0, got %v", *raw.MirostatTau))
		}
		p.MirostatTau = *raw.MirostatTau
	} else {
		p.MirostatTau = 5.0
	}
	if raw.MirostatEta != nil {
		if *raw.MirostatEta < 0 || *raw.MirostatEta > 1 {
			return Params{}, apperr.Field("mirostat_eta", fmt.Sprintf("must be in [0, 1], got %v", *raw.MirostatEta))
		}
		p.MirostatEta = *raw.MirostatEta
	} else {
		p.MirostatEta = 0.1
	}
	p.Seed = raw.Seed

	return p, nil
}
