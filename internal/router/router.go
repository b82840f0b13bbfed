// Package router picks the model roster for a turn: the ordered free list,
// the single paid model, or the single vision model for turns that carry an
// image.
package router

import (
	"errors"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

var ErrEmptyRoster = errors.New("free tier requires at least one model")

type Config struct {
	FreeModels  []string
	ProModel    string
	VisionModel string
}

type Router struct {
	free   *Roster
	pro    *Roster
	vision *Roster
}

func New(cfg Config) (*Router, error) {
	if len(cfg.FreeModels) == 0 {
		return nil, ErrEmptyRoster
	}

	r := &Router{free: NewRoster("free", cfg.FreeModels)}
	if cfg.ProModel != "" {
		r.pro = NewFixed("pro", cfg.ProModel)
	}
	if cfg.VisionModel != "" {
		r.vision = NewFixed("vision", cfg.VisionModel)
	}
	return r, nil
}

// Select returns the roster for a tier. Vision turns go to the vision model
// when one is configured. The pro tier never falls back to the free list;
// without a configured pro model it is an invalid tier.
func (r *Router) Select(tier domain.Tier, vision bool) (*Roster, error) {
	if vision && r.vision != nil {
		return r.vision, nil
	}

	switch tier {
	case domain.TierFree:
		return r.free, nil
	case domain.TierPro:
		if r.pro == nil {
			return nil, domain.ErrInvalidTier
		}
		return r.pro, nil
	}
	return nil, domain.ErrInvalidTier
}

// HasVision reports whether image turns get a dedicated roster.
func (r *Router) HasVision() bool {
	return r.vision != nil
}

// Rosters lists every configured roster, free first.
func (r *Router) Rosters() []*Roster {
	out := []*Roster{r.free}
	if r.pro != nil {
		out = append(out, r.pro)
	}
	if r.vision != nil {
		out = append(out, r.vision)
	}
	return out
}
