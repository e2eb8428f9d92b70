package gitimport

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxDecompressedSize caps a single decompressed Git object, guarding
// against a maliciously crafted zlib bomb in an imported repository.
const maxDecompressedSize = 256 * 1024 * 1024

// Source reads raw object bytes by id, checking loose storage first and
// falling back to whatever packs have been attached, mirroring the layered
// lookup a native objstore.Layered performs for native objects.
type Source struct {
	gitDir string
	packs  []*PackIndex
}

// OpenSource opens a foreign .git directory for reading, loading every pack
// index found under objects/pack so packed objects resolve alongside loose
// ones.
func OpenSource(gitDir string) (*Source, error) {
	s := &Source{gitDir: gitDir}
	if err := s.loadPackIndices(); err != nil {
		return nil, fmt.Errorf("gitimport: loading pack indices: %w", err)
	}
	return s, nil
}

func (s *Source) loadPackIndices() error {
	packDir := filepath.Join(s.gitDir, "objects", "pack")
	entries, err := os.ReadDir(packDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading pack directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".idx") {
			continue
		}
		idx, err := loadPackIndexFile(filepath.Join(packDir, e.Name()))
		if err != nil {
			return fmt.Errorf("loading pack index %s: %w", e.Name(), err)
		}
		s.packs = append(s.packs, idx)
	}
	return nil
}

// ReadObject reads and decodes the object named by id, trying loose storage
// then every attached pack, returning its decoded form and type.
func (s *Source) ReadObject(id ForeignHash) (any, ForeignObjectType, error) {
	header, content, err := s.readLooseRaw(id)
	if err == nil {
		return decodeBody(header, content, id)
	}

	for _, idx := range s.packs {
		if offset, found := idx.FindObject(id); found {
			data, typ, err := readFromPackFile(idx.packPath, offset, s.readRawByHash)
			if err != nil {
				return nil, 0, fmt.Errorf("gitimport: reading packed object %s: %w", id.Short(), err)
			}
			return decodeBody(ForeignObjectType(typ).String(), data, id)
		}
	}
	return nil, 0, fmt.Errorf("gitimport: object not found: %s", id)
}

// readRawByHash resolves a ref-delta base object to raw bytes + type byte,
// used only while applying pack deltas.
func (s *Source) readRawByHash(id ForeignHash) ([]byte, byte, error) {
	header, content, err := s.readLooseRaw(id)
	if err == nil {
		typ, err := foreignTypeByteFromHeader(header)
		if err != nil {
			return nil, 0, err
		}
		return content, typ, nil
	}
	for _, idx := range s.packs {
		if offset, found := idx.FindObject(id); found {
			return readFromPackFile(idx.packPath, offset, s.readRawByHash)
		}
	}
	return nil, 0, fmt.Errorf("gitimport: object not found: %s", id)
}

func (s *Source) readLooseRaw(id ForeignHash) (header string, content []byte, err error) {
	path := filepath.Join(s.gitDir, "objects", string(id)[:2], string(id)[2:])
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := readZlibData(f)
	if err != nil {
		return "", nil, fmt.Errorf("invalid compressed object %s: %w", id, err)
	}
	nullIdx := bytes.IndexByte(data, 0)
	if nullIdx == -1 {
		return "", nil, fmt.Errorf("invalid loose object format: %s", id)
	}
	return string(data[:nullIdx]), data[nullIdx+1:], nil
}

func readZlibData(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed object exceeds %d bytes", maxDecompressedSize)
	}
	return buf.Bytes(), nil
}

func foreignTypeByteFromHeader(header string) (byte, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid object header: %q", header)
	}
	switch parts[0] {
	case foreignTypeCommit:
		return byte(ForeignCommit), nil
	case foreignTypeTree:
		return byte(ForeignTree), nil
	case foreignTypeBlob:
		return byte(ForeignBlob), nil
	case foreignTypeTag:
		return byte(ForeignTag), nil
	default:
		return 0, fmt.Errorf("unsupported object type: %s", parts[0])
	}
}

func decodeBody(header string, content []byte, id ForeignHash) (any, ForeignObjectType, error) {
	switch {
	case strings.HasPrefix(header, foreignTypeCommit):
		c, err := decodeCommit(content, id)
		return c, ForeignCommit, err
	case strings.HasPrefix(header, foreignTypeTree):
		t, err := decodeTree(content, id)
		return t, ForeignTree, err
	case strings.HasPrefix(header, foreignTypeBlob):
		return content, ForeignBlob, nil
	case strings.HasPrefix(header, foreignTypeTag):
		t, err := decodeTag(content, id)
		return t, ForeignTag, err
	default:
		return nil, 0, fmt.Errorf("unrecognized object header: %q", header)
	}
}

func decodeCommit(body []byte, id ForeignHash) (*ForeignCommit, error) {
	c := &ForeignCommit{ID: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	inMessage := false
	var msg []string

	for scanner.Scan() {
		line := scanner.Text()
		if inMessage {
			msg = append(msg, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}
		switch {
		case strings.HasPrefix(line, "parent "):
			p, err := NewForeignHash(strings.TrimPrefix(line, "parent "))
			if err != nil {
				return nil, fmt.Errorf("invalid parent: %w", err)
			}
			c.Parents = append(c.Parents, p)
		case strings.HasPrefix(line, "tree "):
			t, err := NewForeignHash(strings.TrimPrefix(line, "tree "))
			if err != nil {
				return nil, fmt.Errorf("invalid tree: %w", err)
			}
			c.Tree = t
		case strings.HasPrefix(line, "author "):
			sig, err := ParseForeignSignature(strings.TrimPrefix(line, "author "))
			if err != nil {
				return nil, err
			}
			c.Author = sig
		case strings.HasPrefix(line, "committer "):
			sig, err := ParseForeignSignature(strings.TrimPrefix(line, "committer "))
			if err != nil {
				return nil, err
			}
			c.Committer = sig
		}
	}
	c.Message = strings.TrimSpace(strings.Join(msg, "\n"))
	return c, nil
}

func decodeTag(body []byte, id ForeignHash) (*ForeignTag, error) {
	t := &ForeignTag{ID: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	inMessage := false
	var msg []string

	for scanner.Scan() {
		line := scanner.Text()
		if inMessage {
			msg = append(msg, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}
		switch {
		case strings.HasPrefix(line, "object "):
			h, err := NewForeignHash(strings.TrimPrefix(line, "object "))
			if err != nil {
				return nil, err
			}
			t.Object = h
		case strings.HasPrefix(line, "type "):
			switch strings.TrimPrefix(line, "type ") {
			case foreignTypeCommit:
				t.ObjType = ForeignCommit
			case foreignTypeTree:
				t.ObjType = ForeignTree
			case foreignTypeBlob:
				t.ObjType = ForeignBlob
			case foreignTypeTag:
				t.ObjType = ForeignTag
			}
		case strings.HasPrefix(line, "tag "):
			t.Name = strings.TrimPrefix(line, "tag ")
		case strings.HasPrefix(line, "tagger "):
			sig, err := ParseForeignSignature(strings.TrimPrefix(line, "tagger "))
			if err != nil {
				return nil, err
			}
			t.Tagger = sig
		}
	}
	t.Message = strings.TrimSpace(strings.Join(msg, "\n"))
	return t, nil
}

func decodeTree(body []byte, id ForeignHash) (*ForeignTree, error) {
	tree := &ForeignTree{ID: id}
	r := bytes.NewReader(body)

	for {
		var modeBuf strings.Builder
		for {
			b, err := r.ReadByte()
			if err == io.EOF {
				return tree, nil
			}
			if err != nil {
				return nil, fmt.Errorf("reading mode: %w", err)
			}
			if b == ' ' {
				break
			}
			modeBuf.WriteByte(b)
		}
		var nameBuf strings.Builder
		for {
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("reading name: %w", err)
			}
			if b == 0 {
				break
			}
			nameBuf.WriteByte(b)
		}
		var raw [20]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, fmt.Errorf("reading entry hash: %w", err)
		}
		tree.Entries = append(tree.Entries, ForeignTreeEntry{
			ID:   NewForeignHashFromBytes(raw),
			Name: nameBuf.String(),
			Mode: modeBuf.String(),
		})
	}
}
