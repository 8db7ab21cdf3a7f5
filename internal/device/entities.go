package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EntityState is the translated state of an entity as last published.
type EntityState struct {
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// EntityIndex holds the last classification result: descriptors by slug,
// by owning device and by bound command. The dispatcher resolves slugs here.
//
// All public methods are thread-safe and return copies.
type EntityIndex struct {
	mu       sync.RWMutex
	bySlug   map[string]*indexedEntity
	byDevice map[int][]string
	byCmd    map[int][]string
	claims   map[string][]int // classifier slug → claiming device ids, ascending
}

type indexedEntity struct {
	desc  *EntityDescriptor
	base  string // slug as classified, before cross-device disambiguation
	state *EntityState
}

// SlugMove is an entity of another device whose slug changed because a
// device started or stopped sharing its classifier slug.
type SlugMove struct {
	DeviceID int    `json:"eqlogic_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Replacement is the result of ReplaceDevice.
type Replacement struct {
	// Stored are the device's descriptors with their final slugs.
	Stored []*EntityDescriptor

	// Removed are slugs the device emitted before and no longer does.
	Removed []string

	// Moved lists renamed entities of other devices.
	Moved []SlugMove
}

// NewEntityIndex creates an empty index.
func NewEntityIndex() *EntityIndex {
	return &EntityIndex{
		bySlug:   make(map[string]*indexedEntity),
		byDevice: make(map[int][]string),
		byCmd:    make(map[int][]string),
		claims:   make(map[string][]int),
	}
}

// Replace swaps the descriptors of one device for a new set and returns
// the stored descriptors and the slugs that disappeared. See ReplaceDevice.
func (x *EntityIndex) Replace(deviceID int, descs []*EntityDescriptor) (stored []*EntityDescriptor, removed []string) {
	r := x.ReplaceDevice(deviceID, descs)
	return r.Stored, r.Removed
}

// ReplaceDevice swaps the descriptors of one device for a new set.
//
// When several devices produce the same slug, the lowest device id keeps
// it and the others get "_<deviceID>" appended, whatever order the devices
// were announced in. A device joining or leaving a shared slug can move an
// entity of another device; such renames are returned in Moved. Cached
// state follows an entity across renames and survives for slugs that
// persist.
func (x *EntityIndex) ReplaceDevice(deviceID int, descs []*EntityDescriptor) Replacement {
	x.mu.Lock()
	defer x.mu.Unlock()

	previous := make(map[string]*indexedEntity, len(x.byDevice[deviceID]))
	previousSlugs := x.byDevice[deviceID]
	affected := make(map[string]bool, len(previousSlugs)+len(descs))
	for _, slug := range previousSlugs {
		ie, ok := x.bySlug[slug]
		if !ok {
			continue
		}
		previous[ie.base] = ie
		affected[ie.base] = true
		x.unindexLocked(slug)
		x.unclaimLocked(ie.base, deviceID)
	}
	delete(x.byDevice, deviceID)

	clones := make([]*EntityDescriptor, 0, len(descs))
	for _, d := range descs {
		desc := d.Clone()
		desc.DeviceID = deviceID
		clones = append(clones, desc)
		x.claimLocked(desc.Slug, deviceID)
		affected[desc.Slug] = true
	}

	var res Replacement
	res.Moved = x.settleLocked(affected, deviceID)

	current := make(map[string]bool, len(clones))
	slugs := make([]string, 0, len(clones))
	for _, desc := range clones {
		base := desc.Slug
		desc.Slug = x.slugForLocked(base, deviceID)

		ie := &indexedEntity{desc: desc, base: base}
		if prev, ok := previous[base]; ok {
			ie.state = prev.state
		}
		x.indexLocked(ie)
		current[desc.Slug] = true
		slugs = append(slugs, desc.Slug)
		res.Stored = append(res.Stored, desc.Clone())
	}
	if len(slugs) > 0 {
		x.byDevice[deviceID] = slugs
	}

	for _, slug := range previousSlugs {
		if !current[slug] {
			res.Removed = append(res.Removed, slug)
		}
	}
	sort.Strings(res.Removed)
	return res
}

// slugForLocked returns the slug device id gets for a classifier slug.
func (x *EntityIndex) slugForLocked(base string, id int) string {
	if owners := x.claims[base]; len(owners) > 0 && owners[0] != id {
		return fmt.Sprintf("%s_%d", base, id)
	}
	return base
}

// settleLocked renames the entities of other devices whose slug no longer
// matches the claims on the given classifier slugs.
func (x *EntityIndex) settleLocked(bases map[string]bool, self int) []SlugMove {
	sorted := make([]string, 0, len(bases))
	for base := range bases {
		sorted = append(sorted, base)
	}
	sort.Strings(sorted)

	var moves []SlugMove
	var pending []*indexedEntity
	for _, base := range sorted {
		for _, owner := range x.claims[base] {
			if owner == self {
				continue
			}
			slug, ie := x.claimedLocked(base, owner)
			if ie == nil {
				continue
			}
			want := x.slugForLocked(base, owner)
			if slug == want {
				continue
			}
			x.unindexLocked(slug)
			list := x.byDevice[owner]
			for i := range list {
				if list[i] == slug {
					list[i] = want
				}
			}
			ie.desc.Slug = want
			pending = append(pending, ie)
			moves = append(moves, SlugMove{DeviceID: owner, From: slug, To: want})
		}
	}
	for _, ie := range pending {
		x.indexLocked(ie)
	}
	return moves
}

// claimedLocked finds the entity of owner built from a classifier slug.
func (x *EntityIndex) claimedLocked(base string, owner int) (string, *indexedEntity) {
	for _, slug := range x.byDevice[owner] {
		if ie, ok := x.bySlug[slug]; ok && ie.base == base {
			return slug, ie
		}
	}
	return "", nil
}

func (x *EntityIndex) claimLocked(base string, id int) {
	owners := x.claims[base]
	i := sort.SearchInts(owners, id)
	if i < len(owners) && owners[i] == id {
		return
	}
	owners = append(owners, 0)
	copy(owners[i+1:], owners[i:])
	owners[i] = id
	x.claims[base] = owners
}

func (x *EntityIndex) unclaimLocked(base string, id int) {
	owners := x.claims[base]
	i := sort.SearchInts(owners, id)
	if i >= len(owners) || owners[i] != id {
		return
	}
	owners = append(owners[:i], owners[i+1:]...)
	if len(owners) == 0 {
		delete(x.claims, base)
		return
	}
	x.claims[base] = owners
}

// indexLocked adds ie under its descriptor's slug. Caller holds x.mu.
func (x *EntityIndex) indexLocked(ie *indexedEntity) {
	slug := ie.desc.Slug
	x.bySlug[slug] = ie
	for _, cmdID := range ie.desc.CommandIDs() {
		x.byCmd[cmdID] = append(x.byCmd[cmdID], slug)
	}
}

// unindexLocked removes slug from the slug and command maps. Caller holds
// x.mu.
func (x *EntityIndex) unindexLocked(slug string) {
	ie, ok := x.bySlug[slug]
	if !ok {
		return
	}
	delete(x.bySlug, slug)
	for _, cmdID := range ie.desc.CommandIDs() {
		x.byCmd[cmdID] = removeString(x.byCmd[cmdID], slug)
		if len(x.byCmd[cmdID]) == 0 {
			delete(x.byCmd, cmdID)
		}
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// BySlug returns the descriptor for slug.
func (x *EntityIndex) BySlug(slug string) (*EntityDescriptor, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ie, ok := x.bySlug[slug]
	if !ok {
		return nil, false
	}
	return ie.desc.Clone(), true
}

// ForCommand returns every descriptor that binds cmdID.
func (x *EntityIndex) ForCommand(cmdID int) []*EntityDescriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collectLocked(x.byCmd[cmdID])
}

// ForDevice returns the descriptors emitted for a device.
func (x *EntityIndex) ForDevice(deviceID int) []*EntityDescriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collectLocked(x.byDevice[deviceID])
}

func (x *EntityIndex) collectLocked(slugs []string) []*EntityDescriptor {
	out := make([]*EntityDescriptor, 0, len(slugs))
	for _, slug := range slugs {
		if ie, ok := x.bySlug[slug]; ok {
			out = append(out, ie.desc.Clone())
		}
	}
	return out
}

// All returns every descriptor ordered by slug.
func (x *EntityIndex) All() []*EntityDescriptor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	slugs := make([]string, 0, len(x.bySlug))
	for slug := range x.bySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return x.collectLocked(slugs)
}

// Count returns the number of indexed entities.
func (x *EntityIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.bySlug)
}

// CountByPlatform returns entity counts per platform.
func (x *EntityIndex) CountByPlatform() map[Platform]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	counts := make(map[Platform]int)
	for _, ie := range x.bySlug {
		counts[ie.desc.Platform]++
	}
	return counts
}

// SetState stores the translated state of an entity.
func (x *EntityIndex) SetState(slug string, st EntityState) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	ie, ok := x.bySlug[slug]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, slug)
	}
	cpy := st
	ie.state = &cpy
	return nil
}

// State returns the last translated state of an entity.
func (x *EntityIndex) State(slug string) (EntityState, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ie, ok := x.bySlug[slug]
	if !ok || ie.state == nil {
		return EntityState{}, false
	}
	return *ie.state, true
}
