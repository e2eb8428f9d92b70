package gitimport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	packIndexV2Magic0 byte = 0xFF
	packIndexV2Magic1 byte = 0x74
	packIndexV2Magic2 byte = 0x4F
	packIndexV2Magic3 byte = 0x63
)

const (
	packObjectCommit      byte = 1
	packObjectTree        byte = 2
	packObjectBlob        byte = 3
	packObjectTag         byte = 4
	packObjectOffsetDelta byte = 6
	packObjectRefDelta    byte = 7
)

const (
	packIndexLargeOffsetFlag uint32 = 0x80000000
	packIndexLargeOffsetMask uint32 = 0x7FFFFFFF
)

// PackIndex maps object ids to byte offsets within a pack file, supporting
// both v1 and v2 on-disk index formats.
type PackIndex struct {
	packPath   string
	version    uint32
	numObjects uint32
	offsets    map[ForeignHash]int64
}

// FindObject looks up an object's byte offset within the pack.
func (p *PackIndex) FindObject(id ForeignHash) (int64, bool) {
	off, ok := p.offsets[id]
	return off, ok
}

func loadPackIndexFile(idxPath string) (*PackIndex, error) {
	f, err := os.Open(idxPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header [4]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("reading index header: %w", err)
	}

	packPath := strings.Replace(idxPath, ".idx", ".pack", 1)

	var idx *PackIndex
	if header[0] == packIndexV2Magic0 && header[1] == packIndexV2Magic1 &&
		header[2] == packIndexV2Magic2 && header[3] == packIndexV2Magic3 {
		idx, err = loadPackIndexV2(f, packPath)
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking to start: %w", err)
		}
		idx, err = loadPackIndexV1(f, packPath)
	}
	return idx, err
}

func loadPackIndexV1(r io.ReadSeeker, packPath string) (*PackIndex, error) {
	idx := &PackIndex{packPath: packPath, version: 1, offsets: make(map[ForeignHash]int64)}
	var fanout [256]uint32
	for i := range fanout {
		if err := binary.Read(r, binary.BigEndian, &fanout[i]); err != nil {
			return nil, fmt.Errorf("reading fanout[%d]: %w", i, err)
		}
	}
	idx.numObjects = fanout[255]

	for i := uint32(0); i < idx.numObjects; i++ {
		var offset uint32
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, fmt.Errorf("reading offset %d: %w", i, err)
		}
		var name [20]byte
		if _, err := io.ReadFull(r, name[:]); err != nil {
			return nil, fmt.Errorf("reading name %d: %w", i, err)
		}
		idx.offsets[NewForeignHashFromBytes(name)] = int64(offset)
	}
	return idx, nil
}

func loadPackIndexV2(rs io.ReadSeeker, packPath string) (*PackIndex, error) {
	idx := &PackIndex{packPath: packPath, version: 2, offsets: make(map[ForeignHash]int64)}

	var version uint32
	if err := binary.Read(rs, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != 2 {
		return nil, fmt.Errorf("expected index version 2, got %d", version)
	}

	var fanout [256]uint32
	for i := range fanout {
		if err := binary.Read(rs, binary.BigEndian, &fanout[i]); err != nil {
			return nil, fmt.Errorf("reading fanout[%d]: %w", i, err)
		}
	}
	idx.numObjects = fanout[255]

	names := make([][20]byte, idx.numObjects)
	for i := range names {
		if _, err := io.ReadFull(rs, names[i][:]); err != nil {
			return nil, fmt.Errorf("reading name %d: %w", i, err)
		}
	}

	if _, err := rs.Seek(int64(idx.numObjects*4), io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("skipping CRCs: %w", err)
	}

	offsets := make([]uint32, idx.numObjects)
	for i := range offsets {
		if err := binary.Read(rs, binary.BigEndian, &offsets[i]); err != nil {
			return nil, fmt.Errorf("reading offset %d: %w", i, err)
		}
	}

	var largeOffsets []uint64
	for _, off := range offsets {
		if off&packIndexLargeOffsetFlag != 0 && len(largeOffsets) == 0 {
			for {
				var lo uint64
				if err := binary.Read(rs, binary.BigEndian, &lo); err != nil {
					if err == io.EOF {
						break
					}
					return nil, fmt.Errorf("reading large offset: %w", err)
				}
				largeOffsets = append(largeOffsets, lo)
			}
		}
	}

	for i, off := range offsets {
		hash := NewForeignHashFromBytes(names[i])
		if off&packIndexLargeOffsetFlag != 0 {
			li := off & packIndexLargeOffsetMask
			if int(li) >= len(largeOffsets) {
				continue
			}
			idx.offsets[hash] = int64(largeOffsets[li])
		} else {
			idx.offsets[hash] = int64(off)
		}
	}
	return idx, nil
}

// rawResolver resolves a ref-delta base object by id to raw bytes and type.
type rawResolver func(id ForeignHash) ([]byte, byte, error)

func readFromPackFile(packPath string, offset int64, resolve rawResolver) ([]byte, byte, error) {
	f, err := os.Open(packPath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, err
	}
	return readPackObject(f, resolve)
}

func readPackObject(rs io.ReadSeeker, resolve rawResolver) ([]byte, byte, error) {
	objStart, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, err
	}
	objType, size, err := readPackObjectHeader(rs)
	if err != nil {
		return nil, 0, err
	}

	switch objType {
	case packObjectCommit, packObjectTree, packObjectBlob, packObjectTag:
		data, err := readInflated(rs, size)
		return data, objType, err
	case packObjectOffsetDelta:
		return readOffsetDelta(rs, size, objStart, resolve)
	case packObjectRefDelta:
		return readRefDelta(rs, size, resolve)
	default:
		return nil, 0, fmt.Errorf("unsupported pack object type: %d", objType)
	}
}

func readPackObjectHeader(r io.Reader) (objType byte, size int64, err error) {
	var b [1]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, 0, err
	}
	objType = (b[0] >> 4) & 0x07
	size = int64(b[0] & 0x0F)
	shift := 4
	for b[0]&0x80 != 0 {
		if _, err := r.Read(b[:]); err != nil {
			return 0, 0, err
		}
		size |= int64(b[0]&0x7F) << shift
		shift += 7
	}
	return objType, size, nil
}

func readInflated(r io.Reader, expectedSize int64) ([]byte, error) {
	data, err := readZlibData(r)
	if err != nil {
		return nil, fmt.Errorf("invalid compressed pack data: %w", err)
	}
	if int64(len(data)) != expectedSize {
		return nil, fmt.Errorf("size mismatch: expected %d, got %d", expectedSize, len(data))
	}
	return data, nil
}

func readOffsetDelta(rs io.ReadSeeker, size, objStart int64, resolve rawResolver) ([]byte, byte, error) {
	var b [1]byte
	if _, err := rs.Read(b[:]); err != nil {
		return nil, 0, err
	}
	offset := int64(b[0] & 0x7F)
	for b[0]&0x80 != 0 {
		if _, err := rs.Read(b[:]); err != nil {
			return nil, 0, err
		}
		offset = ((offset + 1) << 7) | int64(b[0]&0x7F)
	}

	deltaData, err := readInflated(rs, size)
	if err != nil {
		return nil, 0, fmt.Errorf("reading offset delta: %w", err)
	}
	after, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, err
	}

	basePos := objStart - offset
	if _, err := rs.Seek(basePos, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seeking to base object at %d: %w", basePos, err)
	}
	baseData, baseType, err := readPackObject(rs, resolve)
	if err != nil {
		return nil, 0, fmt.Errorf("reading base object at %d: %w", basePos, err)
	}
	if _, err := rs.Seek(after, io.SeekStart); err != nil {
		return nil, 0, err
	}

	result, err := applyDelta(baseData, deltaData)
	if err != nil {
		return nil, 0, fmt.Errorf("applying offset delta: %w", err)
	}
	return result, baseType, nil
}

func readRefDelta(rs io.ReadSeeker, size int64, resolve rawResolver) ([]byte, byte, error) {
	var rawHash [20]byte
	if _, err := io.ReadFull(rs, rawHash[:]); err != nil {
		return nil, 0, fmt.Errorf("reading base id: %w", err)
	}
	baseID := NewForeignHashFromBytes(rawHash)

	deltaData, err := readInflated(rs, size)
	if err != nil {
		return nil, 0, fmt.Errorf("reading ref delta: %w", err)
	}

	baseData, baseType, err := resolve(baseID)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving base object %s: %w", baseID.Short(), err)
	}

	result, err := applyDelta(baseData, deltaData)
	if err != nil {
		return nil, 0, fmt.Errorf("applying ref delta: %w", err)
	}
	return result, baseType, nil
}

// applyDelta reconstructs an object from a base and Git's copy/insert delta
// encoding.
func applyDelta(base, delta []byte) ([]byte, error) {
	src := bytes.NewReader(delta)

	srcSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}
	if srcSize != int64(len(base)) {
		return nil, fmt.Errorf("base size mismatch: expected %d, got %d", srcSize, len(base))
	}
	targetSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, targetSize)
	for {
		var cmd [1]byte
		if _, err := src.Read(cmd[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		if cmd[0]&0x80 != 0 {
			var offset, size int64
			for i := 0; i < 4; i++ {
				if cmd[0]&(0x01<<i) != 0 {
					var b [1]byte
					if _, err := src.Read(b[:]); err != nil {
						return nil, err
					}
					offset |= int64(b[0]) << (8 * i)
				}
			}
			for i := 0; i < 3; i++ {
				if cmd[0]&(0x10<<i) != 0 {
					var b [1]byte
					if _, err := src.Read(b[:]); err != nil {
						return nil, err
					}
					size |= int64(b[0]) << (8 * i)
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if offset+size > int64(len(base)) {
				return nil, fmt.Errorf("copy of %d exceeds base size %d", offset+size, len(base))
			}
			result = append(result, base[offset:offset+size]...)
		} else if cmd[0] != 0 {
			size := int(cmd[0] & 0x7F)
			data := make([]byte, size)
			if _, err := io.ReadFull(src, data); err != nil {
				return nil, err
			}
			result = append(result, data...)
		} else {
			return nil, fmt.Errorf("invalid delta opcode 0")
		}
	}

	if int64(len(result)) != targetSize {
		return nil, fmt.Errorf("result size mismatch: expected %d, got %d", targetSize, len(result))
	}
	return result, nil
}

func readVarInt(src *bytes.Reader) (int64, error) {
	var result int64
	var shift uint
	for {
		var b [1]byte
		if _, err := src.Read(b[:]); err != nil {
			return 0, err
		}
		result |= int64(b[0]&0x7F) << shift
		shift += 7
		if b[0]&0x80 == 0 {
			break
		}
	}
	return result, nil
}
