package record

import "github.com/cvvkv/cvvkv/internal/version"

// FilterVisibleVersions implements the three-step visibility algorithm:
// causal visibility (with latching), supersession, and aggregation.
//
// Step 1: an object version ov is visible if the reader's `visible` vector
// already dominates ov.Version. Otherwise, if the reader's `knowledge`
// dominates ov.Timestamp (the full causal context ov was written with),
// then ov and everything it causally depends on is newly visible; this
// is latched by widening `visible` to include ov.Timestamp, so that the
// next read (and every concurrently executing one under the same lock)
// sees it without redoing the causality check.
//
// Step 2: among the versions that survive step 1, a version is dropped if
// some other surviving version's timestamp already dominates it, i.e. it
// has been causally superseded by a later write the reader can already
// see.
//
// Step 3: what remains is aggregated into a VersionVector (the
// dependent-versions a subsequent write must cite) and the list of
// surviving versions. `visible` is mutated in place by the latching step;
// callers must hold the owning replica's update lock.
func FilterVisibleVersions(rec *ObjectRecord, knowledge *version.VersionSet, visible *version.VersionVector) (*version.VersionVector, []*ObjectVersion) {
	survivors := make([]*ObjectVersion, 0, len(rec.Versions))

	for _, ov := range rec.Versions {
		if visible.DominatesVersion(ov.Version) {
			survivors = append(survivors, ov)
			continue
		}
		// visible doesn't dominate, so the timestamp cannot have been
		// elided (an elided timestamp implies committedVisible, and
		// therefore visible, already dominates the version).
		if ov.Timestamp == nil {
			continue
		}
		if knowledge.DominatesVV(ov.Timestamp) {
			visible.Merge(ov.Timestamp)
			survivors = append(survivors, ov)
		}
	}

	// Step 2: drop versions superseded by a sibling's timestamp.
	kept := make([]*ObjectVersion, len(survivors))
	copy(kept, survivors)
	for i := range kept {
		if kept[i] == nil {
			continue
		}
		for j := i + 1; j < len(kept); j++ {
			if kept[j] == nil {
				continue
			}
			switch {
			case kept[i].Timestamp.DominatesVersion(kept[j].Version):
				kept[j] = nil
			case kept[j].Timestamp.DominatesVersion(kept[i].Version):
				kept[i] = nil
			}
			if kept[i] == nil {
				break
			}
		}
	}

	// Step 3: aggregate.
	resultVV := version.NewVersionVector()
	result := make([]*ObjectVersion, 0, len(kept))
	for _, ov := range kept {
		if ov == nil {
			continue
		}
		result = append(result, ov)
		resultVV.Update(ov.Version)
	}
	return resultVV, result
}

// DiscardTimestampForReplacementVV elides the timestamp of rec's sole
// surviving version when vv already dominates it. A single-version record
// with a dominated version can always have its causal timestamp
// reconstructed from any version vector that is known to dominate it (the
// caller is responsible for ensuring vv is causally complete and that the
// local knowledge dominates vv), so retaining the timestamp explicitly
// would be redundant.
func DiscardTimestampForReplacementVV(rec *ObjectRecord, vv *version.VersionVector) {
	if len(rec.Versions) != 1 {
		return
	}
	if vv.DominatesVersion(rec.Versions[0].Version) {
		rec.Versions[0].Timestamp = nil
	}
}
