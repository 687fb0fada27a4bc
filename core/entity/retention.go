package entity

import (
	"time"

	"github.com/stratakit/strata/core/schema"
)

// applyRetention splits versions (sorted oldest-first) into the set to
// keep and the set to prune, per the entity's retention policy.
// Retention is lazy: it runs on every history read, trading a little
// read latency for having no scheduler.
func applyRetention(policy schema.RetentionPolicy, now time.Time, versions []*Version) (keep, prune []*Version) {
	switch policy.Kind {
	case schema.RetainVersions:
		if len(versions) <= policy.Amount {
			return versions, nil
		}
		cut := len(versions) - policy.Amount
		return versions[cut:], versions[:cut]

	case schema.RetainDays:
		cutoff := now.UTC().AddDate(0, 0, -policy.Amount)
		for _, v := range versions {
			at, err := time.Parse(TimeLayout, v.versionedAt)
			if err != nil || at.Before(cutoff) {
				// Unparseable timestamps age out with the rest.
				prune = append(prune, v)
				continue
			}
			keep = append(keep, v)
		}
		return keep, prune

	default:
		return versions, nil
	}
}
