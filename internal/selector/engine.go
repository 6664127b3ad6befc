/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package selector implements diversity-constrained, feedback-weighted song
// selection. All selection is pure in-memory computation over the inputs;
// callers inject the candidate pool, the recent-play context, and a seeded
// random source, which keeps batch generation deterministic under test.
package selector

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/models"
)

// Weight multipliers beyond the configured like-boost.
const (
	rediscoveryBoost = 1.3
	affinityBoost    = 1.1
	affinityPlays    = 5
	recentFloor      = 0.1
)

// Recent is one entry of the constraint context: a song from the play history
// or the already-planned queue tail, newest first.
type Recent struct {
	SongID    string
	ArtistKey string
	Genres    []string
}

// RecentFromHistory converts play history rows into constraint context.
func RecentFromHistory(plays []models.PlayHistory) []Recent {
	out := make([]Recent, 0, len(plays))
	for _, play := range plays {
		key := play.ArtistID
		if key == "" {
			key = play.Artist
		}
		out = append(out, Recent{SongID: play.SongID, ArtistKey: key, Genres: play.Genres})
	}
	return out
}

// RecentFromSongs converts planned songs (queue tail) into constraint context.
func RecentFromSongs(songs []models.Song) []Recent {
	out := make([]Recent, 0, len(songs))
	for _, song := range songs {
		out = append(out, Recent{SongID: song.ID, ArtistKey: song.ArtistKey(), Genres: song.Genres})
	}
	return out
}

// Rand is the subset of math/rand used by the engine.
type Rand interface {
	Float64() float64
}

// Batch is the outcome of one selection round.
type Batch struct {
	Songs []models.Song
	// DiscoveryCount is how many selected songs came from the discovery subset.
	DiscoveryCount int
	// RelaxedGenre and RelaxedArtist report that the corresponding constraint
	// had to be dropped for at least one slot because no candidate satisfied it.
	RelaxedGenre  bool
	RelaxedArtist bool
}

// Engine selects diverse batches from a candidate pool.
type Engine struct {
	cfg    config.QueueConfig
	logger zerolog.Logger
}

// New creates a selection engine.
func New(cfg config.QueueConfig, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With().Str("component", "selector").Logger()}
}

// SelectBatch picks up to count songs from pool, honouring the artist-gap and
// genre-ratio constraints against recent (newest first) and the discovery
// quota. Disliked songs never appear. When constraints cannot be satisfied
// they are relaxed deterministically: genre ratio first, then artist gap, so
// a non-empty pool always yields a full batch.
func (e *Engine) SelectBatch(pool []models.UserSong, recent []Recent, count int, now time.Time, rng Rand) Batch {
	var batch Batch
	if count <= 0 {
		return batch
	}

	candidates := make([]candidate, 0, len(pool))
	for _, entry := range pool {
		if entry.Song == nil || entry.Feedback == models.FeedbackDislike {
			continue
		}
		candidates = append(candidates, candidate{
			entry:     entry,
			weight:    e.weigh(entry, now),
			discovery: e.IsDiscovery(entry, now),
		})
	}
	if len(candidates) == 0 {
		return batch
	}

	window := newWindow(recent, e.cfg)
	quota := discoveryQuota(count, e.cfg.DiscoveryRatio)

	for len(batch.Songs) < count && len(candidates) > 0 {
		slot := len(batch.Songs)
		wantDiscovery := batch.DiscoveryCount < quota.slotsThrough(slot)

		idx, relax := pickCandidate(candidates, window, wantDiscovery, rng)
		if idx < 0 {
			break
		}
		switch relax {
		case relaxGenre:
			batch.RelaxedGenre = true
		case relaxArtist:
			batch.RelaxedGenre = true
			batch.RelaxedArtist = true
		}

		picked := candidates[idx]
		batch.Songs = append(batch.Songs, *picked.entry.Song)
		if picked.discovery {
			batch.DiscoveryCount++
		}
		window.observe(picked.entry.Song)
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}

	if batch.RelaxedGenre || batch.RelaxedArtist {
		e.logger.Debug().
			Bool("genre", batch.RelaxedGenre).
			Bool("artist", batch.RelaxedArtist).
			Int("selected", len(batch.Songs)).
			Msg("constraints relaxed during selection")
	}

	return batch
}

// IsDiscovery reports whether the entry counts against the discovery quota:
// never played, or last played beyond the staleness window.
func (e *Engine) IsDiscovery(entry models.UserSong, now time.Time) bool {
	if entry.LastPlayed == nil {
		return true
	}
	return now.Sub(*entry.LastPlayed) > e.cfg.DiscoveryStaleness
}

// weigh computes the sampling weight for one candidate. Disliked entries are
// filtered before this runs; everything else starts from the behavioural
// score and picks up the like-boost, a rediscovery bonus, a personal-favourite
// bonus, and a penalty for very recent plays.
func (e *Engine) weigh(entry models.UserSong, now time.Time) float64 {
	weight := entry.Score
	if weight <= 0 {
		weight = 1.0
	}

	if entry.Feedback == models.FeedbackLike {
		weight *= e.cfg.LikeBoost
	}
	if entry.PlayCount >= affinityPlays {
		weight *= affinityBoost
	}

	if entry.LastPlayed == nil {
		return weight
	}

	since := now.Sub(*entry.LastPlayed)
	if since > e.cfg.DiscoveryStaleness {
		weight *= rediscoveryBoost
		return weight
	}

	days := since.Hours() / 24
	switch {
	case days < 1:
		weight *= recentFloor
	case days < 7:
		weight *= math.Max(recentFloor, 1-1/days)
	}

	return weight
}

type candidate struct {
	entry     models.UserSong
	weight    float64
	discovery bool
}

type relaxLevel int

const (
	relaxNone relaxLevel = iota
	relaxGenre
	relaxArtist
)

// pickCandidate returns the index of a weighted random candidate and the
// relaxation level that was required. Preference order per slot: the desired
// subset (discovery or familiar) under full constraints, then the other
// subset under full constraints, then progressively relaxed constraints over
// the whole pool. Returns -1 only when candidates is empty.
func pickCandidate(candidates []candidate, window *window, wantDiscovery bool, rng Rand) (int, relaxLevel) {
	for _, level := range []relaxLevel{relaxNone, relaxGenre, relaxArtist} {
		if idx := sampleEligible(candidates, window, level, wantDiscovery, rng); idx >= 0 {
			return idx, level
		}
	}
	return -1, relaxArtist
}

// sampleEligible draws one weighted random index among candidates eligible at
// the given relaxation level. The preferred subset is tried first; when it has
// no eligible member the other subset is accepted at the same level.
func sampleEligible(candidates []candidate, window *window, level relaxLevel, wantDiscovery bool, rng Rand) int {
	for _, subset := range []bool{wantDiscovery, !wantDiscovery} {
		total := 0.0
		for _, cand := range candidates {
			if cand.discovery == subset && eligible(cand, window, level) {
				total += cand.weight
			}
		}
		if total <= 0 {
			continue
		}

		target := rng.Float64() * total
		cum := 0.0
		last := -1
		for idx, cand := range candidates {
			if cand.discovery != subset || !eligible(cand, window, level) {
				continue
			}
			cum += cand.weight
			last = idx
			if target < cum {
				return idx
			}
		}
		// Floating point accumulation can leave target just beyond cum.
		return last
	}
	return -1
}

func eligible(cand candidate, window *window, level relaxLevel) bool {
	song := cand.entry.Song
	if level < relaxArtist && !window.artistEligible(song.ArtistKey()) {
		return false
	}
	if level < relaxGenre && !window.genreEligible(song.Genres) {
		return false
	}
	return true
}
