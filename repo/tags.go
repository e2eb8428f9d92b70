package repo

import (
	"bytes"
	"fmt"
	"time"

	"github.com/hashgraft/hashgraft/internal/commitgraph"
	"github.com/hashgraft/hashgraft/internal/objstore"
)

// TagObject is an annotated tag's canonical serialization, structurally
// parallel to a commit: it names the object it tags (and that object's
// kind, since a tag can in principle point at a commit, tree, or blob),
// who tagged it, and why.
type TagObject struct {
	Target     objstore.Hash
	TargetKind objstore.Kind
	Tagger     commitgraph.Signature
	Message    string
}

func encodeTagObject(t *TagObject) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Target)
	fmt.Fprintf(&buf, "type %s\n", t.TargetKind)
	fmt.Fprintf(&buf, "tagger %s <%s> %d\n", t.Tagger.Name, t.Tagger.Email, t.Tagger.When.Unix())
	buf.WriteString("\n")
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// CreateAnnotatedTag builds and stores an annotated tag object pointing at
// target, then points name at the tag object's hash — the TAGS partition
// entry this way resolves to a real object rather than target directly,
// which is what distinguishes an annotated tag from a lightweight one.
func (r *Repository) CreateAnnotatedTag(name string, target objstore.Hash, targetKind objstore.Kind, tagger commitgraph.Signature, message string) (objstore.Hash, error) {
	data := encodeTagObject(&TagObject{Target: target, TargetKind: targetKind, Tagger: tagger, Message: message})
	h, err := r.store.PutTag(data)
	if err != nil {
		return "", fmt.Errorf("repo: creating annotated tag %s: %w", name, err)
	}
	if err := r.CreateTag(name, h); err != nil {
		return "", err
	}
	return h, nil
}

// ReadTagObject reads and decodes an annotated tag object by hash. Calling
// this on a lightweight tag's target (a commit hash, not a tag object) is a
// caller error; distinguishing the two is done by checking Tags() against
// Branches()/commit lookups, the same ambiguity a lightweight tag always has.
func (r *Repository) ReadTagObject(h objstore.Hash) (*TagObject, error) {
	data, err := r.store.GetTag(h)
	if err != nil {
		return nil, fmt.Errorf("repo: reading tag object %s: %w", h, err)
	}
	return decodeTagObject(h, data)
}

func decodeTagObject(h objstore.Hash, data []byte) (*TagObject, error) {
	t := &TagObject{}
	lines := bytes.Split(data, []byte("\n"))
	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if len(line) == 0 {
			i++
			break
		}
		switch {
		case bytes.HasPrefix(line, []byte("object ")):
			t.Target = objstore.Hash(line[len("object "):])
		case bytes.HasPrefix(line, []byte("type ")):
			t.TargetKind = parseKind(string(line[len("type "):]))
		case bytes.HasPrefix(line, []byte("tagger ")):
			t.Tagger = parseTaggerLine(string(line[len("tagger "):]))
		default:
			return nil, fmt.Errorf("repo: malformed tag object header %q for %s", line, h)
		}
	}
	t.Message = string(bytes.Join(lines[i:], []byte("\n")))
	return t, nil
}

func parseKind(s string) objstore.Kind {
	switch s {
	case "blob":
		return objstore.KindBlob
	case "tree":
		return objstore.KindTree
	case "commit":
		return objstore.KindCommit
	case "tag":
		return objstore.KindTag
	default:
		return 0
	}
}

func parseTaggerLine(s string) commitgraph.Signature {
	open := bytes.IndexByte([]byte(s), '<')
	close := bytes.IndexByte([]byte(s), '>')
	if open < 0 || close < 0 || close < open {
		return commitgraph.Signature{Name: s}
	}
	name := s[:open]
	if len(name) > 0 && name[len(name)-1] == ' ' {
		name = name[:len(name)-1]
	}
	email := s[open+1 : close]
	var unix int64
	fmt.Sscanf(s[close+1:], " %d", &unix)
	return commitgraph.Signature{Name: name, Email: email, When: time.Unix(unix, 0).UTC()}
}
