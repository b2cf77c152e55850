// Package merge reconciles local and remote snapshots of the handover
// dataset.
//
// The policy is remote-wins with a per-tower shallow overlay: a full pull
// from the spreadsheet is treated as authoritative for every unit it
// mentions, while units the remote has not yet seen (created offline) are
// preserved. Units are replaced wholesale - no field-by-field merging -
// because the spreadsheet row is the unit's complete remote representation.
//
// Merging the same remote snapshot repeatedly is idempotent; merging is not
// commutative (local and remote play different roles).
package merge

import "handsync/internal/handover"

// Merge overlays a remote snapshot onto the local dataset and returns the
// reconciled result.
//
// For each tower present in remote, its flats are overlaid onto the local
// tower: flats present only locally are preserved, flats present in both
// are replaced wholesale by the remote record, and remote-only flats are
// added. Towers absent from remote are left untouched.
//
// Neither input is mutated; the result is an independent, complete-shaped
// dataset.
func Merge(local, remote handover.Dataset) handover.Dataset {
	out := local.Clone()
	out.Normalize()

	for towerID, remoteTower := range remote.Towers {
		if remoteTower == nil || len(remoteTower.Flats) == 0 {
			continue
		}
		localTower, ok := out.Towers[towerID]
		if !ok || localTower == nil {
			localTower = &handover.Tower{Flats: make(map[string]handover.UnitRecord)}
			out.Towers[towerID] = localTower
		}
		for flatID, rec := range remoteTower.Flats {
			localTower.Flats[flatID] = rec.Clone()
		}
	}

	return out
}

// MergeImported overlays a manually imported partial dataset onto the
// existing one. The policy is identical to Merge - imported rows win
// wholesale for the units they mention - and applies regardless of
// connectivity state, since import is an explicit user action.
func MergeImported(existing, imported handover.Dataset) handover.Dataset {
	return Merge(existing, imported)
}
