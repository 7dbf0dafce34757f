package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/kvnovik/relcore/src/bufferpool"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/pkg/optional"
	"github.com/kvnovik/relcore/src/storage/page"
)

// HeaderPageID is the distinguished page holding the index_name -> root
// page id directory.
const HeaderPageID common.PageID = 0

const (
	headerNameSize   = 32
	headerRecordSize = headerNameSize + 4
	headerCountOff   = 0
	headerRecordsOff = 2
)

// Header wraps the page 0 directory of index_name -> root_page_id records.
type Header struct {
	bpm bufferpool.PageStore
}

// NewHeader returns a Header bound to bpm, creating page 0 if it does not
// already exist as an allocated page.
func NewHeader(bpm bufferpool.PageStore) (*Header, error) {
	h := &Header{bpm: bpm}
	if _, err := bpm.FetchPage(HeaderPageID); err != nil {
		id, p, err := bpm.NewPage()
		if err != nil {
			return nil, err
		}
		if id != HeaderPageID {
			// Only valid on a fresh disk: page 0 must be the very first
			// page ever allocated.
			bpm.UnpinPage(id, false)
			return nil, errHeaderPageMismatch
		}
		binary.LittleEndian.PutUint16(p.GetData()[headerCountOff:headerCountOff+2], 0)
		bpm.UnpinPage(id, true)
		return h, nil
	}
	bpm.UnpinPage(HeaderPageID, false)
	return h, nil
}

func recordCount(p *page.Page) int {
	return int(binary.LittleEndian.Uint16(p.GetData()[headerCountOff : headerCountOff+2]))
}

func recordNameAt(p *page.Page, i int) []byte {
	off := headerRecordsOff + i*headerRecordSize
	raw := p.GetData()[off : off+headerNameSize]
	return bytes.TrimRight(raw, "\x00")
}

func recordPageIDAt(p *page.Page, i int) common.PageID {
	off := headerRecordsOff + i*headerRecordSize + headerNameSize
	return common.PageID(int32(binary.LittleEndian.Uint32(p.GetData()[off : off+4])))
}

func setRecordAt(p *page.Page, i int, name string, id common.PageID) {
	off := headerRecordsOff + i*headerRecordSize
	d := p.GetData()
	for j := 0; j < headerNameSize; j++ {
		d[off+j] = 0
	}
	copy(d[off:off+headerNameSize], name)
	binary.LittleEndian.PutUint32(d[off+headerNameSize:off+headerNameSize+4], uint32(int32(id)))
}

// GetRootPageID returns the root page id recorded for name, if any.
func (h *Header) GetRootPageID(name string) optional.Optional[common.PageID] {
	p, err := h.bpm.FetchPage(HeaderPageID)
	if err != nil {
		return optional.None[common.PageID]()
	}
	defer h.bpm.UnpinPage(HeaderPageID, false)

	n := recordCount(p)
	for i := 0; i < n; i++ {
		if string(recordNameAt(p, i)) == name {
			return optional.Some(recordPageIDAt(p, i))
		}
	}
	return optional.None[common.PageID]()
}

// InsertRecord adds a new index_name -> root_page_id record.
func (h *Header) InsertRecord(name string, id common.PageID) error {
	p, err := h.bpm.FetchPage(HeaderPageID)
	if err != nil {
		return err
	}
	defer h.bpm.UnpinPage(HeaderPageID, true)

	n := recordCount(p)
	setRecordAt(p, n, name, id)
	binary.LittleEndian.PutUint16(p.GetData()[headerCountOff:headerCountOff+2], uint16(n+1))
	return nil
}

// UpdateRecord rewrites name's root_page_id. The B+-tree calls this on
// every root change (split of the root, merge into a single child, first
// insert into an empty tree).
func (h *Header) UpdateRecord(name string, id common.PageID) error {
	p, err := h.bpm.FetchPage(HeaderPageID)
	if err != nil {
		return err
	}
	defer h.bpm.UnpinPage(HeaderPageID, true)

	n := recordCount(p)
	for i := 0; i < n; i++ {
		if string(recordNameAt(p, i)) == name {
			setRecordAt(p, i, name, id)
			return nil
		}
	}
	setRecordAt(p, n, name, id)
	binary.LittleEndian.PutUint16(p.GetData()[headerCountOff:headerCountOff+2], uint16(n+1))
	return nil
}
