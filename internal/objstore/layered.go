package objstore

import (
	"fmt"
	"iter"
)

// Layered tries the loose store first, then each pack in order, matching the
// read-fallback order a repository builds up as it packs old loose objects.
// Writes always go to the loose store; packs are created out-of-band by
// internal/packfile and attached here for reading.
type Layered struct {
	loose *FileStore
	packs []*PackStore
}

// NewLayered wires a loose store and zero or more read-only packs together.
func NewLayered(loose *FileStore, packs ...*PackStore) *Layered {
	return &Layered{loose: loose, packs: packs}
}

// AttachPack adds a pack to the read fallback chain, most-recently-attached
// searched last (oldest packs are usually the bulk of history and are
// attached first at repository open time).
func (l *Layered) AttachPack(p *PackStore) {
	l.packs = append(l.packs, p)
}

func (l *Layered) Has(h Hash) (bool, error) {
	if ok, err := l.loose.Has(h); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	for _, p := range l.packs {
		if ok, _ := p.Has(h); ok {
			return true, nil
		}
	}
	return false, nil
}

func (l *Layered) GetBlob(h Hash) ([]byte, error) {
	if ok, err := l.loose.Has(h); err == nil && ok {
		return l.loose.GetBlob(h)
	}
	for _, p := range l.packs {
		if ok, _ := p.Has(h); ok {
			return p.GetBlob(h)
		}
	}
	return nil, fmt.Errorf("objstore: blob %s not found in loose store or any attached pack", h)
}

func (l *Layered) GetTree(h Hash) (*Tree, error) {
	if ok, err := l.loose.Has(h); err == nil && ok {
		return l.loose.GetTree(h)
	}
	for _, p := range l.packs {
		if ok, _ := p.Has(h); ok {
			return p.GetTree(h)
		}
	}
	return nil, fmt.Errorf("objstore: tree %s not found in loose store or any attached pack", h)
}

func (l *Layered) GetTag(h Hash) ([]byte, error) {
	if ok, err := l.loose.Has(h); err == nil && ok {
		return l.loose.GetTag(h)
	}
	for _, p := range l.packs {
		if ok, _ := p.Has(h); ok {
			return p.GetTag(h)
		}
	}
	return nil, fmt.Errorf("objstore: tag %s not found in loose store or any attached pack", h)
}

// PutBlob, PutTree, and PutTag always write through to the loose store;
// packing existing loose objects into a new pack is a separate maintenance
// operation, not something the Store interface performs implicitly.
func (l *Layered) PutBlob(data []byte) (Hash, error)            { return l.loose.PutBlob(data) }
func (l *Layered) PutTree(entries []TreeEntry) (Hash, error)    { return l.loose.PutTree(entries) }
func (l *Layered) PutTag(data []byte) (Hash, error)             { return l.loose.PutTag(data) }

func (l *Layered) IterObjects() iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		seen := make(map[Hash]bool)
		for o, err := range l.loose.IterObjects() {
			if err == nil {
				seen[o.Hash] = true
			}
			if !yield(o, err) {
				return
			}
		}
		for _, p := range l.packs {
			for o, err := range p.IterObjects() {
				if err == nil {
					if seen[o.Hash] {
						continue
					}
					seen[o.Hash] = true
				}
				if !yield(o, err) {
					return
				}
			}
		}
	}
}
