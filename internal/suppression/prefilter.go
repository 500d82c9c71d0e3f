package suppression

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
)

// Prefilter is a read-only, two-layer membership snapshot of the
// ledger used to cheaply screen large lead imports:
//
//	Layer 1: bloom filter, O(1), resolves almost all negatives
//	Layer 2: sorted binary MD5 array, O(log n) verification
//
// False positives fall through to layer 2; false negatives cannot
// happen within the snapshot. Entries added to the ledger after the
// snapshot was built are invisible to it, which is why the dispatch
// path never consults a Prefilter, only the authoritative ledger.
type Prefilter struct {
	filter *bloomFilter
	hashes []md5Hash
}

// md5Hash is a 16-byte MD5 in binary form. Fixed-size arrays avoid the
// string-header and allocation overhead that matters at millions of
// entries.
type md5Hash [16]byte

func md5HashFromHex(hexStr string) (md5Hash, bool) {
	var h md5Hash
	if len(hexStr) != 32 {
		return h, false
	}
	if _, err := hex.Decode(h[:], []byte(hexStr)); err != nil {
		return h, false
	}
	return h, true
}

func md5HashFromEmail(email string) md5Hash {
	return md5.Sum([]byte(Normalize(email)))
}

// NewPrefilterFromHexes builds a prefilter from hex-encoded MD5 hashes.
// Invalid hashes are skipped.
func NewPrefilterFromHexes(hexes []string) *Prefilter {
	hashes := make([]md5Hash, 0, len(hexes))
	for _, hx := range hexes {
		if h, ok := md5HashFromHex(hx); ok {
			hashes = append(hashes, h)
		}
	}

	unique := dedupeAndSort(hashes)

	n := uint64(len(unique))
	if n == 0 {
		n = 1
	}
	filter := newBloomFilter(n, 0.001)
	for _, h := range unique {
		filter.add(h)
	}

	return &Prefilter{filter: filter, hashes: unique}
}

// MayContain reports whether the email might be in the snapshot.
// A false result is definitive for the snapshot's load time.
func (p *Prefilter) MayContain(email string) bool {
	h := md5HashFromEmail(email)
	if !p.filter.mayContain(h) {
		return false
	}
	return binarySearch(p.hashes, h)
}

// Len returns the number of entries in the snapshot.
func (p *Prefilter) Len() int { return len(p.hashes) }

// =============================================================================
// Bloom filter
// =============================================================================

type bloomFilter struct {
	bits      []uint64
	size      uint64
	hashCount uint
}

// newBloomFilter sizes the filter for n expected elements at the given
// false-positive rate: m = -n·ln(p)/ln(2)², k = (m/n)·ln(2).
func newBloomFilter(n uint64, p float64) *bloomFilter {
	m := uint64(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	m = ((m + 63) / 64) * 64

	k := uint((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}

	return &bloomFilter{
		bits:      make([]uint64, m/64),
		size:      m,
		hashCount: k,
	}
}

func (bf *bloomFilter) add(h md5Hash) {
	for i := uint(0); i < bf.hashCount; i++ {
		pos := bf.hash(h, i) % bf.size
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
}

func (bf *bloomFilter) mayContain(h md5Hash) bool {
	for i := uint(0); i < bf.hashCount; i++ {
		pos := bf.hash(h, i) % bf.size
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// hash derives the i-th hash via double hashing over the two 8-byte
// halves of the MD5: h_i = h1 + i·h2.
func (bf *bloomFilter) hash(h md5Hash, i uint) uint64 {
	h1 := binary.LittleEndian.Uint64(h[:8])
	h2 := binary.LittleEndian.Uint64(h[8:])
	return h1 + uint64(i)*h2
}

// =============================================================================
// Helpers
// =============================================================================

func binarySearch(hashes []md5Hash, target md5Hash) bool {
	left, right := 0, len(hashes)-1
	for left <= right {
		mid := left + (right-left)/2
		cmp := bytes.Compare(target[:], hashes[mid][:])
		if cmp == 0 {
			return true
		} else if cmp < 0 {
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	return false
}

func dedupeAndSort(hashes []md5Hash) []md5Hash {
	if len(hashes) == 0 {
		return hashes
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	unique := hashes[:1]
	for i := 1; i < len(hashes); i++ {
		if hashes[i] != unique[len(unique)-1] {
			unique = append(unique, hashes[i])
		}
	}
	return unique
}
