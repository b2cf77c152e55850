// Package handover defines the construction handover dataset model.
//
// The dataset is a fixed three-tower hierarchy: each tower holds a map of
// flats keyed by unit id (e.g. "A-101"), and each flat tracks a set of
// handover stages (key handover, snagging, first visit, handover, move-in).
// Stage entries are sparse - a missing stage means the unit has not reached
// it yet, never an error.
package handover

import "sort"

// Stage names a milestone in a unit's handover lifecycle.
//
// The set of stages is fixed. Stages() returns them in their canonical
// order, which exports and reports rely on.
type Stage string

const (
	// StageKeyHandover is the initial key handover to the owner.
	StageKeyHandover Stage = "keyHandover"
	// StageSnagging is the snagging inspection.
	StageSnagging Stage = "snagging"
	// StageFirstVisit is the owner's first site visit.
	StageFirstVisit Stage = "firstVisit"
	// StageHandover is the final unit handover.
	StageHandover Stage = "handover"
	// StageMoveIn is interiors completion / move-in.
	StageMoveIn Stage = "moveIn"
)

// Stages returns all stages in canonical order.
func Stages() []Stage {
	return []Stage{StageKeyHandover, StageSnagging, StageFirstVisit, StageHandover, StageMoveIn}
}

// TowerIDs is the fixed set of tower identifiers. Towers are never created
// or removed dynamically; every persisted dataset carries all of them.
var TowerIDs = []string{"A", "B", "C"}

// StageStatus records the state of one stage for one unit.
//
// All fields besides Completed are optional. Date is an ISO-8601 timestamp
// string as received from the remote store; it is carried verbatim rather
// than parsed, since the spreadsheet side is the source of truth for its
// own formatting.
type StageStatus struct {
	// Completed indicates the stage has been finished.
	Completed bool `json:"completed"`

	// Date is when the stage was completed (ISO-8601), if known.
	Date string `json:"date,omitempty"`

	// Actor is who performed or recorded the stage, if known.
	Actor string `json:"actor,omitempty"`

	// Fields holds free-form sub-fields the remote store attaches to a
	// stage (snag counts, notes, and similar).
	Fields map[string]string `json:"fields,omitempty"`
}

// Clone returns a deep copy of the status.
func (s *StageStatus) Clone() *StageStatus {
	if s == nil {
		return nil
	}
	out := &StageStatus{
		Completed: s.Completed,
		Date:      s.Date,
		Actor:     s.Actor,
	}
	if s.Fields != nil {
		out.Fields = make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// UnitRecord maps stage name to stage status for a single flat.
type UnitRecord map[Stage]*StageStatus

// Clone returns a deep copy of the record.
func (u UnitRecord) Clone() UnitRecord {
	if u == nil {
		return nil
	}
	out := make(UnitRecord, len(u))
	for stage, status := range u {
		out[stage] = status.Clone()
	}
	return out
}

// Tower is one top-level partition of the dataset.
type Tower struct {
	// Flats maps unit id to its handover record.
	Flats map[string]UnitRecord `json:"flats"`
}

// Clone returns a deep copy of the tower.
func (t *Tower) Clone() *Tower {
	out := &Tower{Flats: make(map[string]UnitRecord, len(t.Flats))}
	for id, rec := range t.Flats {
		out.Flats[id] = rec.Clone()
	}
	return out
}

// Dataset is the full handover dataset: the fixed towers and their flats.
//
// The wire and storage shape is {"towers":{"A":{"flats":{...}},...}}, which
// matches what the remote endpoint returns on pull.
type Dataset struct {
	Towers map[string]*Tower `json:"towers"`
}

// New returns the canonical empty dataset: all towers present with empty
// flat maps. This is the shape stored on first access and the fallback for
// an absent persisted dataset.
func New() Dataset {
	ds := Dataset{Towers: make(map[string]*Tower, len(TowerIDs))}
	for _, id := range TowerIDs {
		ds.Towers[id] = &Tower{Flats: make(map[string]UnitRecord)}
	}
	return ds
}

// Normalize ensures the dataset is complete-shaped: the towers map exists,
// every fixed tower is present, and no tower has a nil flat map. Partial
// shapes can appear after decoding remote or imported payloads; persisted
// datasets are always normalized before writing.
func (ds *Dataset) Normalize() {
	if ds.Towers == nil {
		ds.Towers = make(map[string]*Tower, len(TowerIDs))
	}
	for _, id := range TowerIDs {
		t, ok := ds.Towers[id]
		if !ok || t == nil {
			ds.Towers[id] = &Tower{Flats: make(map[string]UnitRecord)}
			continue
		}
		if t.Flats == nil {
			t.Flats = make(map[string]UnitRecord)
		}
	}
}

// Clone returns a deep copy of the dataset.
func (ds Dataset) Clone() Dataset {
	out := Dataset{Towers: make(map[string]*Tower, len(ds.Towers))}
	for id, t := range ds.Towers {
		if t == nil {
			out.Towers[id] = &Tower{Flats: make(map[string]UnitRecord)}
			continue
		}
		out.Towers[id] = t.Clone()
	}
	return out
}

// Empty reports whether the dataset has no flats in any tower.
func (ds Dataset) Empty() bool {
	for _, t := range ds.Towers {
		if t != nil && len(t.Flats) > 0 {
			return false
		}
	}
	return true
}

// FlatCount returns the total number of flats across all towers.
func (ds Dataset) FlatCount() int {
	n := 0
	for _, t := range ds.Towers {
		if t != nil {
			n += len(t.Flats)
		}
	}
	return n
}

// SetStage records a stage status for a flat, creating the tower entry and
// unit record as needed. Unknown tower ids are accepted here; shape
// enforcement happens in Normalize.
func (ds *Dataset) SetStage(tower, flat string, stage Stage, status *StageStatus) {
	if ds.Towers == nil {
		ds.Towers = make(map[string]*Tower)
	}
	t, ok := ds.Towers[tower]
	if !ok || t == nil {
		t = &Tower{Flats: make(map[string]UnitRecord)}
		ds.Towers[tower] = t
	}
	if t.Flats == nil {
		t.Flats = make(map[string]UnitRecord)
	}
	rec, ok := t.Flats[flat]
	if !ok || rec == nil {
		rec = make(UnitRecord)
		t.Flats[flat] = rec
	}
	rec[stage] = status
}

// SortedTowerIDs returns the dataset's tower ids in sorted order.
// Fixed towers sort ahead of any stray ids a remote payload might carry.
func (ds Dataset) SortedTowerIDs() []string {
	ids := make([]string, 0, len(ds.Towers))
	for id := range ds.Towers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedFlatIDs returns the flat ids of one tower in sorted order.
func (t *Tower) SortedFlatIDs() []string {
	ids := make([]string, 0, len(t.Flats))
	for id := range t.Flats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
