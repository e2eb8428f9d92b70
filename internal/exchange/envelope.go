// Package exchange implements the JSON transfer envelope used to move
// objects and refs between repositories, with no transport of its own —
// producing and applying envelopes is a pure data transformation, and it's
// up to the caller to actually move the bytes (over a socket, a file, HTTP,
// whatever).
package exchange

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hashgraft/hashgraft/internal/objstore"
)

// ObjectEntry is one object carried in an envelope, base64-encoded so the
// whole envelope round-trips cleanly through JSON.
type ObjectEntry struct {
	Hash  objstore.Hash `json:"hash"`
	Kind  objstore.Kind `json:"kind"`
	Bytes string        `json:"bytes_base64"`
}

// Envelope is the wire format exchanged between repositories: a set of
// objects plus the branch/HEAD state they support.
type Envelope struct {
	Objects  []ObjectEntry            `json:"objects"`
	Branches map[string]objstore.Hash `json:"branches"`
	Head     *HeadRef                 `json:"head,omitempty"`
}

// HeadRef mirrors refs.Head's two shapes (attached/detached) across the wire.
type HeadRef struct {
	Branch   string        `json:"branch,omitempty"`
	Detached bool          `json:"detached"`
	Commit   objstore.Hash `json:"commit,omitempty"`
}

// objectSource is the subset of objstore a Build needs to read raw bytes
// for an arbitrary kind, since the base store interface splits reads by
// kind (GetBlob/GetTree/GetTag) but an envelope is kind-agnostic.
type objectSource interface {
	GetBlob(h objstore.Hash) ([]byte, error)
	GetTree(h objstore.Hash) (*objstore.Tree, error)
	GetTag(h objstore.Hash) ([]byte, error)
}

// Build assembles an envelope carrying the given objects (already known to
// the caller, typically via commitgraph.Range plus a tree/blob walk) along
// with the current branch and HEAD state.
func Build(store objectSource, hashes []objstore.Hash, kinds map[objstore.Hash]objstore.Kind, branches map[string]objstore.Hash, head *HeadRef) (*Envelope, error) {
	env := &Envelope{Branches: branches, Head: head}
	for _, h := range hashes {
		kind := kinds[h]
		raw, err := readRaw(store, h, kind)
		if err != nil {
			return nil, fmt.Errorf("exchange: reading object %s: %w", h, err)
		}
		env.Objects = append(env.Objects, ObjectEntry{
			Hash:  h,
			Kind:  kind,
			Bytes: base64.StdEncoding.EncodeToString(raw),
		})
	}
	return env, nil
}

func readRaw(store objectSource, h objstore.Hash, kind objstore.Kind) ([]byte, error) {
	switch kind {
	case objstore.KindBlob:
		return store.GetBlob(h)
	case objstore.KindTree:
		tree, err := store.GetTree(h)
		if err != nil {
			return nil, err
		}
		return tree.Encode(), nil
	case objstore.KindTag:
		return store.GetTag(h)
	default:
		return nil, fmt.Errorf("unsupported object kind %v for %s", kind, h)
	}
}

// Marshal serializes an envelope to JSON.
func Marshal(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshaling envelope: %w", err)
	}
	return data, nil
}

// Unmarshal parses a JSON envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("exchange: unmarshaling envelope: %w", err)
	}
	return &env, nil
}

// objectSink is the subset of objstore an Apply needs to write raw bytes
// back in, by kind.
type objectSink interface {
	PutBlob(data []byte) (objstore.Hash, error)
	PutTree(entries []objstore.TreeEntry) (objstore.Hash, error)
	PutTag(data []byte) (objstore.Hash, error)
	Has(h objstore.Hash) (bool, error)
}

// Apply idempotently applies an envelope's objects to store: an object
// already present (matched by the content hash the sender computed) is
// skipped rather than rewritten, so replaying the same envelope twice — or
// a retried partial transfer — is always safe.
func Apply(store objectSink, env *Envelope) error {
	for _, entry := range env.Objects {
		has, err := store.Has(entry.Hash)
		if err != nil {
			return fmt.Errorf("exchange: checking %s: %w", entry.Hash, err)
		}
		if has {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			return fmt.Errorf("exchange: decoding object %s: %w", entry.Hash, err)
		}

		var gotHash objstore.Hash
		switch entry.Kind {
		case objstore.KindBlob:
			gotHash, err = store.PutBlob(raw)
		case objstore.KindTree:
			tree, perr := objstore.DecodeTree(raw)
			if perr != nil {
				return fmt.Errorf("exchange: decoding tree %s: %w", entry.Hash, perr)
			}
			gotHash, err = store.PutTree(tree.Entries)
		case objstore.KindTag:
			gotHash, err = store.PutTag(raw)
		default:
			return fmt.Errorf("exchange: unsupported object kind %v for %s", entry.Kind, entry.Hash)
		}
		if err != nil {
			return fmt.Errorf("exchange: writing object %s: %w", entry.Hash, err)
		}
		if gotHash != entry.Hash {
			return fmt.Errorf("exchange: object %s re-hashed to %s on apply", entry.Hash, gotHash)
		}
	}
	return nil
}
