package objstore

import (
	"fmt"
	"sort"
)

// Kind identifies what a stored object represents.
type Kind byte

const (
	KindBlob Kind = iota + 1
	KindTree
	KindCommit
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Mode is a tree entry's file mode, restricted to four kinds: file, exec,
// symlink, dir.
type Mode uint32

const (
	ModeFile    Mode = 0o100644
	ModeExec    Mode = 0o100755
	ModeSymlink Mode = 0o120000
	ModeDir     Mode = 0o040000
)

// Valid reports whether m is one of the four recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFile, ModeExec, ModeSymlink, ModeDir:
		return true
	default:
		return false
	}
}

// IsDir reports whether m addresses a tree rather than a blob.
func (m Mode) IsDir() bool { return m == ModeDir }

// TreeEntry is one name -> hash/mode mapping within a Tree.
type TreeEntry struct {
	Name      string
	Mode      Mode
	ChildHash Hash
}

// Tree is a directory snapshot. Entries must be sorted by Name and unique;
// PutTree enforces this before hashing.
type Tree struct {
	Entries []TreeEntry
}

// Canonicalize sorts entries by name and rejects duplicates so that any
// input order of the same entries yields the same hash.
func (t *Tree) Canonicalize() error {
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Name < t.Entries[j].Name })
	for i := range t.Entries {
		e := t.Entries[i]
		if !e.Mode.Valid() {
			return fmt.Errorf("objstore: invalid mode %o for entry %q", e.Mode, e.Name)
		}
		if i > 0 && t.Entries[i-1].Name == e.Name {
			return fmt.Errorf("objstore: duplicate tree entry name %q", e.Name)
		}
	}
	return nil
}

// Encode serializes t into its canonical byte form. The encoding is a flat,
// deterministic record: one line per entry of "<mode> <hash> <name>\n".
// Hashing this encoding is what produces the tree's own Hash.
func (t *Tree) Encode() []byte {
	buf := make([]byte, 0, len(t.Entries)*80)
	for _, e := range t.Entries {
		buf = append(buf, fmt.Appendf(nil, "%06o %s %s\n", uint32(e.Mode), e.ChildHash, e.Name)...)
	}
	return buf
}

// DecodeTree parses the byte form written by Tree.Encode.
func DecodeTree(data []byte) (*Tree, error) {
	t := &Tree{}
	start := 0
	for start < len(data) {
		nl := start
		for nl < len(data) && data[nl] != '\n' {
			nl++
		}
		line := string(data[start:nl])
		var mode uint32
		var hashStr, name string
		n, err := fmt.Sscanf(line, "%o %s", &mode, &hashStr)
		if err != nil || n != 2 {
			return nil, fmt.Errorf("objstore: malformed tree entry %q: %w", line, err)
		}
		// name is everything after the second space-delimited field; re-derive
		// it directly from the line since names may contain spaces.
		prefix := fmt.Sprintf("%06o %s ", mode, hashStr)
		if len(line) < len(prefix) {
			return nil, fmt.Errorf("objstore: malformed tree entry %q", line)
		}
		name = line[len(prefix):]
		h, err := Parse(hashStr)
		if err != nil {
			return nil, fmt.Errorf("objstore: malformed tree entry hash: %w", err)
		}
		t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: Mode(mode), ChildHash: h})
		start = nl + 1
	}
	return t, nil
}
