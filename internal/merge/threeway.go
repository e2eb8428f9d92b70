package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashgraft/hashgraft/internal/objstore"
	"github.com/hashgraft/hashgraft/internal/worktree"
)

// RegionType classifies one span of a three-way merge walk.
type RegionType int

const (
	RegionContext RegionType = iota
	RegionOurs
	RegionTheirs
	RegionConflict
)

// Region is one classified span produced by the diff3-style merge walk.
type Region struct {
	Type        RegionType
	BaseLines   []string
	OursLines   []string
	TheirsLines []string
}

// ConflictKind describes why a path can't merge cleanly: a tree-level clash
// (both sides added it, or one side deleted what the other modified) or
// overlapping line-level edits (ConflictConflicting).
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	ConflictBothAdded
	ConflictDeleteModify
	ConflictConflicting
)

// FileMerge is the full result of merging one path's content three ways.
type FileMerge struct {
	Path      string
	Kind      ConflictKind
	IsBinary  bool
	Truncated bool
	Regions   []Region
	// Merged holds the rendered content: clean merge result, or a version
	// with <<<<<<< conflict markers inserted, depending on Kind.
	Merged []byte
}

// BlobSource is the subset of objstore.Store three-way merge needs.
type BlobSource interface {
	GetBlob(h objstore.Hash) ([]byte, error)
}

// editBlock is a contiguous run of non-keep edits, anchored to the base
// line range it replaces.
type editBlock struct {
	baseStart int
	baseEnd   int
	newLines  []string
}

func editsToBlocks(edits []edit, oldLines, newLines []string) []editBlock {
	var blocks []editBlock
	i := 0
	for i < len(edits) {
		if edits[i].Type == editKeep {
			i++
			continue
		}
		block := editBlock{baseStart: -1, baseEnd: -1}
		for i < len(edits) && edits[i].Type != editKeep {
			switch edits[i].Type {
			case editDelete:
				if block.baseStart == -1 {
					block.baseStart = edits[i].OldLine
				}
				block.baseEnd = edits[i].OldLine + 1
			case editInsert:
				if edits[i].NewLine < len(newLines) {
					block.newLines = append(block.newLines, newLines[edits[i].NewLine])
				}
			}
			i++
		}
		if block.baseStart == -1 {
			if i < len(edits) {
				block.baseStart = edits[i].OldLine
			} else {
				block.baseStart = len(oldLines)
			}
			block.baseEnd = block.baseStart
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// ThreeWay merges base/ours/theirs content for one path, classifying the
// result and rendering conflict markers when the two sides disagree. attrs
// may be nil (treated as "no rules configured"); when it marks path
// merge=binary, the path is treated as binary regardless of its content,
// the same way Git's attribute-driven merge driver selection works.
func ThreeWay(store BlobSource, attrs *worktree.Attributes, path string, baseHash, oursHash, theirsHash objstore.Hash) (*FileMerge, error) {
	fm := &FileMerge{Path: path}

	switch {
	case baseHash.IsZero() && !oursHash.IsZero() && !theirsHash.IsZero():
		fm.Kind = ConflictBothAdded
	case oursHash.IsZero() && !theirsHash.IsZero():
		fm.Kind = ConflictDeleteModify
	case !oursHash.IsZero() && theirsHash.IsZero():
		fm.Kind = ConflictDeleteModify
	}

	var baseContent, oursContent, theirsContent []byte
	var err error
	if !baseHash.IsZero() {
		if baseContent, err = store.GetBlob(baseHash); err != nil {
			return nil, fmt.Errorf("merge: read base blob for %s: %w", path, err)
		}
	}
	if !oursHash.IsZero() {
		if oursContent, err = store.GetBlob(oursHash); err != nil {
			return nil, fmt.Errorf("merge: read ours blob for %s: %w", path, err)
		}
	}
	if !theirsHash.IsZero() {
		if theirsContent, err = store.GetBlob(theirsHash); err != nil {
			return nil, fmt.Errorf("merge: read theirs blob for %s: %w", path, err)
		}
	}

	forcedBinary := attrs != nil && attrs.Has(path, worktree.AttrMergeBinary)
	if forcedBinary || IsBinaryContent(baseContent) || IsBinaryContent(oursContent) || IsBinaryContent(theirsContent) {
		fm.IsBinary = true
		return fm, nil
	}
	if len(baseContent) > maxBlobSize || len(oursContent) > maxBlobSize || len(theirsContent) > maxBlobSize {
		fm.Truncated = true
		return fm, nil
	}

	baseLines := splitLines(baseContent)
	oursLines := splitLines(oursContent)
	theirsLines := splitLines(theirsContent)

	blocksOurs := editsToBlocks(computeEdits(baseLines, oursLines), baseLines, oursLines)
	blocksTheirs := editsToBlocks(computeEdits(baseLines, theirsLines), baseLines, theirsLines)

	fm.Regions = mergeWalk(baseLines, blocksOurs, blocksTheirs)

	hasConflict := false
	for _, r := range fm.Regions {
		if r.Type == RegionConflict {
			hasConflict = true
			break
		}
	}
	if fm.Kind == ConflictNone {
		if hasConflict {
			fm.Kind = ConflictConflicting
		}
	}
	if hasConflict {
		fm.Kind = ConflictConflicting
	}

	fm.Merged = []byte(renderRegions(fm.Regions))
	return fm, nil
}

// renderRegions flattens merge regions back into file content, inserting
// diff3-style conflict markers around any RegionConflict spans.
func renderRegions(regions []Region) string {
	var b strings.Builder
	for _, r := range regions {
		switch r.Type {
		case RegionContext:
			writeLines(&b, r.BaseLines)
		case RegionOurs:
			writeLines(&b, r.OursLines)
		case RegionTheirs:
			writeLines(&b, r.TheirsLines)
		case RegionConflict:
			b.WriteString("<<<<<<< ours\n")
			writeLines(&b, r.OursLines)
			b.WriteString("=======\n")
			writeLines(&b, r.TheirsLines)
			b.WriteString(">>>>>>> theirs\n")
		}
	}
	return b.String()
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
}

// mergeWalk performs the diff3-style walk over base lines, interleaving
// edit blocks from both sides into classified regions.
func mergeWalk(baseLines []string, blocksOurs, blocksTheirs []editBlock) []Region {
	var regions []Region

	sort.Slice(blocksOurs, func(i, j int) bool { return blocksOurs[i].baseStart < blocksOurs[j].baseStart })
	sort.Slice(blocksTheirs, func(i, j int) bool { return blocksTheirs[i].baseStart < blocksTheirs[j].baseStart })

	idxOurs, idxTheirs, basePos := 0, 0, 0

	for idxOurs < len(blocksOurs) || idxTheirs < len(blocksTheirs) {
		var nextOurs, nextTheirs *editBlock
		if idxOurs < len(blocksOurs) {
			nextOurs = &blocksOurs[idxOurs]
		}
		if idxTheirs < len(blocksTheirs) {
			nextTheirs = &blocksTheirs[idxTheirs]
		}

		switch {
		case nextOurs != nil && nextTheirs != nil && blocksOverlap(*nextOurs, *nextTheirs):
			overlapStart := min(nextOurs.baseStart, nextTheirs.baseStart)
			if basePos < overlapStart {
				regions = appendContext(regions, baseLines, basePos, overlapStart)
				basePos = overlapStart
			}

			overlapEnd := max(nextOurs.baseEnd, nextTheirs.baseEnd)

			var combinedOurs []string
			combinedOurs = append(combinedOurs, blocksOurs[idxOurs].newLines...)
			oursStart, oursEnd := blocksOurs[idxOurs].baseStart, blocksOurs[idxOurs].baseEnd
			idxOurs++
			for idxOurs < len(blocksOurs) && blockInRange(blocksOurs[idxOurs], overlapEnd) {
				combinedOurs = append(combinedOurs, blocksOurs[idxOurs].newLines...)
				overlapEnd = max(overlapEnd, blocksOurs[idxOurs].baseEnd)
				oursEnd = blocksOurs[idxOurs].baseEnd
				idxOurs++
			}

			var combinedTheirs []string
			combinedTheirs = append(combinedTheirs, blocksTheirs[idxTheirs].newLines...)
			theirsStart, theirsEnd := blocksTheirs[idxTheirs].baseStart, blocksTheirs[idxTheirs].baseEnd
			idxTheirs++
			for idxTheirs < len(blocksTheirs) && blockInRange(blocksTheirs[idxTheirs], overlapEnd) {
				combinedTheirs = append(combinedTheirs, blocksTheirs[idxTheirs].newLines...)
				overlapEnd = max(overlapEnd, blocksTheirs[idxTheirs].baseEnd)
				theirsEnd = blocksTheirs[idxTheirs].baseEnd
				idxTheirs++
			}

			if slicesEqual(combinedOurs, combinedTheirs) && oursStart == theirsStart && oursEnd == theirsEnd {
				regions = append(regions, Region{
					Type:      RegionOurs,
					BaseLines: copySlice(baseLines, basePos, overlapEnd),
					OursLines: combinedOurs,
				})
			} else {
				regions = append(regions, Region{
					Type:        RegionConflict,
					BaseLines:   copySlice(baseLines, basePos, overlapEnd),
					OursLines:   combinedOurs,
					TheirsLines: combinedTheirs,
				})
			}
			basePos = overlapEnd

		case nextOurs != nil && (nextTheirs == nil || nextOurs.baseStart <= nextTheirs.baseStart):
			if basePos < nextOurs.baseStart {
				regions = appendContext(regions, baseLines, basePos, nextOurs.baseStart)
				basePos = nextOurs.baseStart
			}
			regions = append(regions, Region{
				Type:      RegionOurs,
				BaseLines: copySlice(baseLines, basePos, nextOurs.baseEnd),
				OursLines: nextOurs.newLines,
			})
			basePos = nextOurs.baseEnd
			idxOurs++

		default:
			if basePos < nextTheirs.baseStart {
				regions = appendContext(regions, baseLines, basePos, nextTheirs.baseStart)
				basePos = nextTheirs.baseStart
			}
			regions = append(regions, Region{
				Type:        RegionTheirs,
				BaseLines:   copySlice(baseLines, basePos, nextTheirs.baseEnd),
				TheirsLines: nextTheirs.newLines,
			})
			basePos = nextTheirs.baseEnd
			idxTheirs++
		}
	}

	if basePos < len(baseLines) {
		regions = appendContext(regions, baseLines, basePos, len(baseLines))
	}
	return regions
}

func blocksOverlap(a, b editBlock) bool {
	return a.baseStart < b.baseEnd && b.baseStart < a.baseEnd ||
		(a.baseStart == a.baseEnd && a.baseStart >= b.baseStart && a.baseStart <= b.baseEnd) ||
		(b.baseStart == b.baseEnd && b.baseStart >= a.baseStart && b.baseStart <= a.baseEnd)
}

func blockInRange(b editBlock, overlapEnd int) bool {
	return b.baseStart < overlapEnd || (b.baseStart == b.baseEnd && b.baseStart <= overlapEnd)
}

func appendContext(regions []Region, baseLines []string, from, to int) []Region {
	if from >= to {
		return regions
	}
	return append(regions, Region{Type: RegionContext, BaseLines: copySlice(baseLines, from, to)})
}

func copySlice(lines []string, from, to int) []string {
	if from >= to || from >= len(lines) {
		return []string{}
	}
	if to > len(lines) {
		to = len(lines)
	}
	out := make([]string, to-from)
	copy(out, lines[from:to])
	return out
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
