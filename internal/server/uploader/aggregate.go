package uploader

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
)

// GroupBy partitions items so that every sub-slice shares one key and no key
// spans two sub-slices. Groups come out in key order; items keep their input
// order inside a group. key must report a key for every item, otherwise
// common.ErrAbsentKey is returned.
func GroupBy[T any, K cmp.Ordered](items []T, key func(T) (K, bool)) ([][]T, error) {
	type keyed struct {
		key  K
		item T
	}

	all := make([]keyed, 0, len(items))
	for i, it := range items {
		k, ok := key(it)
		if !ok {
			return nil, fmt.Errorf("item %d: %w", i, common.ErrAbsentKey)
		}
		all = append(all, keyed{key: k, item: it})
	}

	slices.SortStableFunc(all, func(a, b keyed) int {
		return cmp.Compare(a.key, b.key)
	})

	var groups [][]T
	for i, kv := range all {
		if i == 0 || all[i-1].key != kv.key {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], kv.item)
	}
	return groups, nil
}

func sharingGroupKey(d *models.DeferredWork) (string, bool) {
	return d.SharingGroupID, d.SharingGroupID != ""
}

func fileGroupKey(d *models.DeferredWork) (string, bool) {
	return d.FileGroupID, d.HasFileGroup()
}

func fileKey(m *models.Mutation) (string, bool) {
	return m.FileID, m.FileID != ""
}

func deferredKey(m *models.Mutation) (int64, bool) {
	return m.DeferredID, m.DeferredID != 0
}

// unit is one atomic piece of change work.
type unit struct {
	sharingGroupID string
	// fileGroupID is empty for the per-file unit of a sharing group.
	fileGroupID string
	items       []*models.DeferredWork
}

func (un unit) grouped() bool {
	return un.fileGroupID != ""
}

// aggregate splits pending-change items by sharing group and then by file
// group. Items without a file group form one per-file unit per sharing group.
func aggregate(items []*models.DeferredWork) ([]unit, error) {
	bySharingGroup, err := GroupBy(items, sharingGroupKey)
	if err != nil {
		return nil, err
	}

	var units []unit
	for _, sg := range bySharingGroup {
		var grouped, ungrouped []*models.DeferredWork
		for _, it := range sg {
			if it.HasFileGroup() {
				grouped = append(grouped, it)
			} else {
				ungrouped = append(ungrouped, it)
			}
		}

		byFileGroup, err := GroupBy(grouped, fileGroupKey)
		if err != nil {
			return nil, err
		}
		for _, fg := range byFileGroup {
			units = append(units, unit{sharingGroupID: fg[0].SharingGroupID, fileGroupID: fg[0].FileGroupID, items: fg})
		}
		if len(ungrouped) > 0 {
			units = append(units, unit{sharingGroupID: ungrouped[0].SharingGroupID, items: ungrouped})
		}
	}
	return units, nil
}
