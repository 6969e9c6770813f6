// Package reid implements the Cross-Camera ReID Registry (spec.md §4.5):
// it maps per-camera local tracks to global cross-camera identities by
// cosine-similarity matching of ReID feature vectors. Protected by the
// level-2 mutex in the lock hierarchy, kept deliberately narrow so that
// Task Manager operations (level 3) never block behind per-frame
// reporting.
package reid

import (
	"math"
	"time"

	"sentrynet/internal/lockhier"
	"sentrynet/internal/model"
)

const emaAlpha = 0.3

// Config tunes matching behavior.
type Config struct {
	MatchingEnabled    bool
	SimilarityThreshold float32 // default 0.7, range [0,1]
	MaxTrackAge        time.Duration // default 30s
	CleanupHighWater   int           // trigger opportunistic cleanup above this many tracks
}

// DefaultConfig returns spec.md defaults.
func DefaultConfig() Config {
	return Config{
		MatchingEnabled:     true,
		SimilarityThreshold: 0.7,
		MaxTrackAge:         30 * time.Second,
		CleanupHighWater:    1000,
	}
}

// Registry owns the global_id -> GlobalTrack map and the
// (source_id,local_id) -> global_id index.
type Registry struct {
	guard *lockhier.RWGuard

	cfg Config

	tracks    map[uint64]*model.GlobalTrack
	index     map[indexKey]uint64
	nextID    uint64
	crossCameraMatches uint64

	now func() time.Time // overridable for tests
}

type indexKey struct {
	sourceID string
	localID  int
}

// New creates a registry with the given config.
func New(cfg Config) *Registry {
	return &Registry{
		guard:  lockhier.NewRWGuard(lockhier.LevelCrossCam),
		cfg:    cfg,
		tracks: make(map[uint64]*model.GlobalTrack),
		index:  make(map[indexKey]uint64),
		nextID: 1,
		now:    time.Now,
	}
}

// Report implements the matching algorithm of spec.md §4.5 step 1-3.
func (r *Registry) Report(sourceID string, localID int, features []float32, box model.BBox, confidence float32) uint64 {
	r.guard.Lock()
	defer r.guard.Unlock()

	key := indexKey{sourceID, localID}
	now := r.now()

	// Step 1: already mapped — EMA-blend and update.
	if gid, ok := r.index[key]; ok {
		t := r.tracks[gid]
		if t != nil {
			t.Canonical = emaBlend(t.Canonical, features, emaAlpha)
			t.Box = box
			t.Confidence = confidence
			t.LastSeen = now
			t.Active = true
			return gid
		}
	}

	// Step 2: cross-camera match against non-expired tracks lacking this source.
	if r.cfg.MatchingEnabled {
		var bestID uint64
		var bestSim float32 = -2
		for gid, t := range r.tracks {
			if now.Sub(t.LastSeen) > r.cfg.MaxTrackAge {
				continue
			}
			if _, has := t.Members[sourceID]; has {
				continue
			}
			sim := CosineSimilarity(features, t.Canonical)
			if sim >= r.cfg.SimilarityThreshold && sim > bestSim {
				bestSim = sim
				bestID = gid
			}
		}
		if bestID != 0 {
			t := r.tracks[bestID]
			t.Members[sourceID] = localID
			t.Canonical = emaBlend(t.Canonical, features, emaAlpha)
			t.Box = box
			t.Confidence = confidence
			t.LastSeen = now
			t.Active = true
			r.index[key] = bestID
			r.crossCameraMatches++
			r.maybeCleanupLocked(now)
			return bestID
		}
	}

	// Step 3: create a new GlobalTrack.
	gid := r.nextID
	r.nextID++
	r.tracks[gid] = &model.GlobalTrack{
		GlobalID:  gid,
		Members:   map[string]int{sourceID: localID},
		Canonical: append([]float32(nil), features...),
		Box:       box,
		Confidence: confidence,
		FirstSeen: now,
		LastSeen:  now,
		Active:    true,
	}
	r.index[key] = gid
	r.maybeCleanupLocked(now)
	return gid
}

// CrossCameraMatches returns the running counter of step-2 matches.
func (r *Registry) CrossCameraMatches() uint64 {
	r.guard.RLock()
	defer r.guard.RUnlock()
	return r.crossCameraMatches
}

// Get returns a copy of the global track, if present.
func (r *Registry) Get(globalID uint64) (model.GlobalTrack, bool) {
	r.guard.RLock()
	defer r.guard.RUnlock()
	t, ok := r.tracks[globalID]
	if !ok {
		return model.GlobalTrack{}, false
	}
	return *t, true
}

// Size returns the number of live global tracks.
func (r *Registry) Size() int {
	r.guard.RLock()
	defer r.guard.RUnlock()
	return len(r.tracks)
}

// Cleanup removes GlobalTracks whose last_seen age exceeds MaxTrackAge,
// along with their index entries (spec.md §4.5 Expiry). Called
// periodically from the Task Manager's 1Hz tick, and opportunistically
// from Report when the registry exceeds 80% of CleanupHighWater.
func (r *Registry) Cleanup() int {
	r.guard.Lock()
	defer r.guard.Unlock()
	return r.cleanupLocked(r.now())
}

func (r *Registry) maybeCleanupLocked(now time.Time) {
	if r.cfg.CleanupHighWater > 0 && len(r.tracks) > (r.cfg.CleanupHighWater*8)/10 {
		r.cleanupLocked(now)
	}
}

func (r *Registry) cleanupLocked(now time.Time) int {
	removed := 0
	for gid, t := range r.tracks {
		if now.Sub(t.LastSeen) > r.cfg.MaxTrackAge {
			for sourceID, localID := range t.Members {
				delete(r.index, indexKey{sourceID, localID})
			}
			delete(r.tracks, gid)
			removed++
		}
	}
	return removed
}

// CosineSimilarity computes cos(u,v), returning 0 when either norm is 0
// or the dimensions differ (spec.md §4.5).
func CosineSimilarity(u, v []float32) float32 {
	if len(u) != len(v) || len(u) == 0 {
		return 0
	}
	var dot, normU, normV float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		normU += float64(u[i]) * float64(u[i])
		normV += float64(v[i]) * float64(v[i])
	}
	if normU == 0 || normV == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normU) * math.Sqrt(normV)))
}

func emaBlend(canonical, incoming []float32, alpha float32) []float32 {
	if len(canonical) == 0 {
		return append([]float32(nil), incoming...)
	}
	if len(incoming) != len(canonical) {
		return canonical
	}
	out := make([]float32, len(canonical))
	for i := range canonical {
		out[i] = (1-alpha)*canonical[i] + alpha*incoming[i]
	}
	return out
}
