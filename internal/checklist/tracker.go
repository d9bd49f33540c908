// Package checklist implements the Checklist State Tracker (spec.md §4.3):
// a per-subject, per-rule cache that lets a checklist-mode rule count as
// satisfied for a bounded window instead of being re-raised every frame.
package checklist

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

// RuleHash is the first 8 hex chars of MD5(rule.description) — an identity
// key, not a security boundary; collisions within one policy are a
// configuration error, not this tracker's problem.
func RuleHash(rule compliance.PolicyRule) string {
	sum := md5.Sum([]byte(rule.Description))
	return hex.EncodeToString(sum[:])[:8]
}

// snapshot is the on-disk/export shape: person_id -> rule_hash -> state.
type snapshot map[string]map[string]compliance.ChecklistState

// Tracker serialises all reads and writes behind a single reentrant-style
// lock (Go's sync.Mutex is not reentrant; every exported method takes the
// lock itself and none call each other while holding it, so there is no
// need for true reentrancy).
type Tracker struct {
	mu    sync.Mutex
	path  string
	state snapshot
}

// New loads path if it exists, otherwise starts empty and runs
// ClearExpired once per spec.md §4.3's "if missing, start empty and run
// clear_expired".
func New(path string) *Tracker {
	t := &Tracker{path: path, state: make(snapshot)}
	if data, err := os.ReadFile(path); err == nil {
		var s snapshot
		if jsonErr := json.Unmarshal(data, &s); jsonErr == nil {
			t.state = s
		} else {
			log.Printf("checklist: failed to parse %s, starting empty: %v", path, jsonErr)
		}
	}
	t.ClearExpired(time.Now().UTC())
	return t
}

func (t *Tracker) persist() {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		log.Printf("checklist: failed to marshal state: %v", err)
		return
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		log.Printf("checklist: failed to write %s: %v", t.path, err)
	}
}

// Check returns (false, nil) immediately for non-checklist-mode rules. For
// checklist-mode rules, an expired cached verdict is mutated to "expired"
// and persisted before returning non-compliant.
func (t *Tracker) Check(personID string, rule compliance.PolicyRule, now time.Time) (bool, *compliance.ChecklistState) {
	if rule.Mode != compliance.ModeChecklist {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	hash := RuleHash(rule)
	bucket, ok := t.state[personID]
	if !ok {
		return false, nil
	}
	state, ok := bucket[hash]
	if !ok {
		return false, nil
	}

	if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
		state.Status = compliance.StatusExpired
		bucket[hash] = state
		t.persist()
		return false, &state
	}

	if state.Status == compliance.StatusCompliant {
		return true, &state
	}
	return false, &state
}

// Update writes a new state for (personID, rule). On compliant=true,
// last_verified is set to now and expires_at to now+validity_duration (or
// nil for a permanent grant). On compliant=false the slot resets to
// pending with cleared timestamps.
func (t *Tracker) Update(personID string, rule compliance.PolicyRule, compliant bool, now time.Time) compliance.ChecklistState {
	t.mu.Lock()
	defer t.mu.Unlock()

	hash := RuleHash(rule)
	bucket, ok := t.state[personID]
	if !ok {
		bucket = make(map[string]compliance.ChecklistState)
		t.state[personID] = bucket
	}

	var state compliance.ChecklistState
	state.RuleHash = hash
	state.PersonID = personID
	if compliant {
		state.Status = compliance.StatusCompliant
		lv := now
		state.LastVerified = &lv
		if rule.ValidityDuration != nil {
			exp := now.Add(time.Duration(*rule.ValidityDuration) * time.Second)
			state.ExpiresAt = &exp
		}
	} else {
		state.Status = compliance.StatusPending
	}

	bucket[hash] = state
	t.persist()
	return state
}

// Checklist returns the current item view for personID across rules,
// including each item's remaining TTL in seconds.
func (t *Tracker) Checklist(personID string, rules []compliance.PolicyRule, now time.Time) []compliance.ChecklistItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.state[personID]
	items := make([]compliance.ChecklistItem, 0, len(rules))
	for _, rule := range rules {
		if rule.Mode != compliance.ModeChecklist {
			continue
		}
		hash := RuleHash(rule)
		item := compliance.ChecklistItem{Rule: rule, Status: compliance.StatusPending}
		if bucket != nil {
			if state, ok := bucket[hash]; ok {
				item.Status = state.Status
				item.LastVerified = state.LastVerified
				item.ExpiresAt = state.ExpiresAt
				if state.ExpiresAt != nil {
					remaining := int64(state.ExpiresAt.Sub(now).Seconds())
					if remaining < 0 {
						remaining = 0
					}
					item.TimeRemaining = &remaining
				}
			}
		}
		items = append(items, item)
	}
	return items
}

// ClearExpired sweeps the whole tracker, dropping entries whose expiry has
// passed and any person bucket left empty by the sweep.
func (t *Tracker) ClearExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearExpiredLocked(now)
}

func (t *Tracker) clearExpiredLocked(now time.Time) {
	changed := false
	for personID, bucket := range t.state {
		for hash, state := range bucket {
			if state.ExpiresAt != nil && now.After(*state.ExpiresAt) {
				delete(bucket, hash)
				changed = true
			}
		}
		if len(bucket) == 0 {
			delete(t.state, personID)
			changed = true
		}
	}
	if changed {
		t.persist()
	}
}

// Reset wipes all tracked state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = make(snapshot)
	t.persist()
}

// Export copies the current state while holding the lock, for a full
// round-trip snapshot.
func (t *Tracker) Export() map[string]map[string]compliance.ChecklistState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]map[string]compliance.ChecklistState, len(t.state))
	for personID, bucket := range t.state {
		copied := make(map[string]compliance.ChecklistState, len(bucket))
		for hash, state := range bucket {
			copied[hash] = state
		}
		out[personID] = copied
	}
	return out
}

// Import replaces the tracker's state with snap and persists it.
func (t *Tracker) Import(snap map[string]map[string]compliance.ChecklistState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = snap
	t.persist()
}
