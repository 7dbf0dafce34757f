// Package btree implements a latch-crabbing B+-tree index over pages
// pinned through the buffer pool, following the encoding/binary-over-a-
// byte-slice page-layout idiom rather than unsafe-pointer header casts.
package btree

import (
	"encoding/binary"

	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

type pageType byte

const (
	typeInternal pageType = 0
	typeLeaf     pageType = 1
)

// Shared header layout, common to both page kinds:
//
//	offset 0:  type (1 byte)
//	offset 1:  size (uint16)
//	offset 3:  max size (uint16)
//	offset 5:  parent page id (int32)
const (
	offType      = 0
	offSize      = 1
	offMaxSize   = 3
	offParent    = 5
	internalBody = 9 // internal pages' (key,child) array starts here

	// Leaf pages additionally store a forward link right after the
	// shared header.
	offNextPageID = 9
	leafBody      = 13
)

// leafEntrySize, internalEntrySize are the per-entry widths for a given key size.
// A leaf entry is (key, RecordID); an internal entry is (key, childPageID).
func leafEntrySize(keySize int) int     { return keySize + 8 }
func internalEntrySize(keySize int) int { return keySize + 4 }

func leafMaxSize(keySize int) int {
	return (page.Size - leafBody) / leafEntrySize(keySize)
}

func internalMaxSize(keySize int) int {
	return (page.Size - internalBody) / internalEntrySize(keySize)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func leafMinSize(maxSize int) int { return ceilDiv(maxSize, 2) }

func internalMinSize(maxSize int) int { return ceilDiv(maxSize+1, 2) }

func pageKind(p *page.Page) pageType { return pageType(p.GetData()[offType]) }

func isLeafPage(p *page.Page) bool { return pageKind(p) == typeLeaf }

func getSize(p *page.Page) int {
	return int(binary.LittleEndian.Uint16(p.GetData()[offSize : offSize+2]))
}

func setSize(p *page.Page, n int) {
	binary.LittleEndian.PutUint16(p.GetData()[offSize:offSize+2], uint16(n))
}

func getMaxSize(p *page.Page) int {
	return int(binary.LittleEndian.Uint16(p.GetData()[offMaxSize : offMaxSize+2]))
}

func getParentPageID(p *page.Page) common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(p.GetData()[offParent : offParent+4])))
}

func setParentPageID(p *page.Page, id common.PageID) {
	binary.LittleEndian.PutUint32(p.GetData()[offParent:offParent+4], uint32(int32(id)))
}

func getNextPageID(p *page.Page) common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(p.GetData()[offNextPageID : offNextPageID+4])))
}

func setNextPageID(p *page.Page, id common.PageID) {
	binary.LittleEndian.PutUint32(p.GetData()[offNextPageID:offNextPageID+4], uint32(int32(id)))
}

// initLeafPage formats p as an empty leaf with the given max size.
func initLeafPage(p *page.Page, maxSize int, parent common.PageID) {
	data := p.GetData()
	data[offType] = byte(typeLeaf)
	setSize(p, 0)
	binary.LittleEndian.PutUint16(data[offMaxSize:offMaxSize+2], uint16(maxSize))
	setParentPageID(p, parent)
	setNextPageID(p, common.InvalidPageID)
}

// initInternalPage formats p as an empty internal page with the given max
// size.
func initInternalPage(p *page.Page, maxSize int, parent common.PageID) {
	data := p.GetData()
	data[offType] = byte(typeInternal)
	setSize(p, 0)
	binary.LittleEndian.PutUint16(data[offMaxSize:offMaxSize+2], uint16(maxSize))
	setParentPageID(p, parent)
}

// leafKeyAt / leafValueAt read entry i (0-indexed) of a leaf page.
func leafKeyAt(p *page.Page, keySize, i int) []byte {
	off := leafBody + i*leafEntrySize(keySize)
	return p.GetData()[off : off+keySize]
}

func leafValueAt(p *page.Page, keySize, i int) common.RecordID {
	off := leafBody + i*leafEntrySize(keySize) + keySize
	d := p.GetData()
	return common.RecordID{
		PageID: common.PageID(int32(binary.LittleEndian.Uint32(d[off : off+4]))),
		Slot:   binary.LittleEndian.Uint32(d[off+4 : off+8]),
	}
}

func setLeafEntry(p *page.Page, keySize, i int, key []byte, rid common.RecordID) {
	off := leafBody + i*leafEntrySize(keySize)
	d := p.GetData()
	copy(d[off:off+keySize], key)
	binary.LittleEndian.PutUint32(d[off+keySize:off+keySize+4], uint32(int32(rid.PageID)))
	binary.LittleEndian.PutUint32(d[off+keySize+4:off+keySize+8], rid.Slot)
}

// internalKeyAt / internalChildAt read entry i (0-indexed, i==0's key is
// meaningless) of an internal page.
func internalKeyAt(p *page.Page, keySize, i int) []byte {
	off := internalBody + i*internalEntrySize(keySize)
	return p.GetData()[off : off+keySize]
}

func internalChildAt(p *page.Page, keySize, i int) common.PageID {
	off := internalBody + i*internalEntrySize(keySize) + keySize
	return common.PageID(int32(binary.LittleEndian.Uint32(p.GetData()[off : off+4])))
}

func setInternalEntry(p *page.Page, keySize, i int, key []byte, child common.PageID) {
	off := internalBody + i*internalEntrySize(keySize)
	d := p.GetData()
	copy(d[off:off+keySize], key)
	binary.LittleEndian.PutUint32(d[off+keySize:off+keySize+4], uint32(int32(child)))
}

// shiftLeaf{Right,Left} move a contiguous run of entries to make room for
// (or close a gap left by) an insertion/deletion at index i.
func shiftLeafRight(p *page.Page, keySize, from, n int) {
	for i := n; i > from; i-- {
		k := leafKeyAt(p, keySize, i-1)
		v := leafValueAt(p, keySize, i-1)
		buf := make([]byte, keySize)
		copy(buf, k)
		setLeafEntry(p, keySize, i, buf, v)
	}
}

func shiftLeafLeft(p *page.Page, keySize, from, n int) {
	for i := from; i < n-1; i++ {
		k := leafKeyAt(p, keySize, i+1)
		v := leafValueAt(p, keySize, i+1)
		buf := make([]byte, keySize)
		copy(buf, k)
		setLeafEntry(p, keySize, i, buf, v)
	}
}

func shiftInternalRight(p *page.Page, keySize, from, n int) {
	for i := n; i > from; i-- {
		k := internalKeyAt(p, keySize, i-1)
		c := internalChildAt(p, keySize, i-1)
		buf := make([]byte, keySize)
		copy(buf, k)
		setInternalEntry(p, keySize, i, buf, c)
	}
}

func shiftInternalLeft(p *page.Page, keySize, from, n int) {
	for i := from; i < n-1; i++ {
		k := internalKeyAt(p, keySize, i+1)
		c := internalChildAt(p, keySize, i+1)
		buf := make([]byte, keySize)
		copy(buf, k)
		setInternalEntry(p, keySize, i, buf, c)
	}
}
