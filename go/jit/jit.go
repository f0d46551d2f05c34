package jit

import (
	"sync"

	"github.com/lunixbochs/alphacorn/go/models"
)

// Block is one guest basic block and whatever the translator made of it.
// Pa/Len identify the guest bytes so self-modifying code can invalidate by
// physical range.
type Block struct {
	Pa  uint64
	Asn uint64
	Len int

	// interpreter executions observed before translation was requested
	Heat int

	// host artifact, nil until translated
	Code Artifact
}

// Artifact is an executable host-side rendering of a block. The x86-64
// emitter lives behind this interface; Execute returns the next guest pc.
type Artifact interface {
	Execute() (nextPC uint64, err error)
	Size() int
	Release()
}

// Translator turns decoded guest blocks into Artifacts.
type Translator interface {
	Translate(pa uint64, code []byte) (Artifact, error)
}

type key struct {
	pa  uint64
	asn uint64
}

type Stats struct {
	Lookups       uint64
	Hits          uint64
	Translations  uint64
	Invalidations uint64
}

// Cache tracks block heat and finished translations, keyed by physical
// address and ASN so two address spaces never share code.
type Cache struct {
	mu     sync.Mutex
	blocks map[key]*Block
	tr     Translator
	hot    int
	stats  Stats
}

func NewCache(tr Translator, conf *models.Config) *Cache {
	hot := conf.Jit.HotThreshold
	if hot <= 0 {
		hot = 1
	}
	return &Cache{
		blocks: make(map[key]*Block),
		tr:     tr,
		hot:    hot,
	}
}

// Touch records one interpreter execution of the block at (pa, asn) and
// returns a translated artifact once the block has run hot. code is only
// read when a translation is actually requested.
func (c *Cache) Touch(pa, asn uint64, code func() ([]byte, error)) (Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Lookups++
	k := key{pa, asn}
	b := c.blocks[k]
	if b == nil {
		b = &Block{Pa: pa, Asn: asn}
		c.blocks[k] = b
	}
	if b.Code != nil {
		c.stats.Hits++
		return b.Code, nil
	}
	b.Heat++
	if b.Heat < c.hot || c.tr == nil {
		return nil, nil
	}
	buf, err := code()
	if err != nil {
		return nil, err
	}
	art, err := c.tr.Translate(pa, buf)
	if err != nil {
		return nil, err
	}
	b.Len = len(buf)
	b.Code = art
	c.stats.Translations++
	return art, nil
}

// InvalidateRange drops blocks overlapping a physical byte range. Wired to
// the coherence bus store watch for self-modifying code.
func (c *Cache) InvalidateRange(pa uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, b := range c.blocks {
		blen := b.Len
		if blen == 0 {
			// untranslated, only heat to lose
			blen = 4
		}
		if b.Pa < pa+uint64(size) && pa < b.Pa+uint64(blen) {
			c.drop(k, b)
		}
	}
}

// InvalidateASN drops all blocks for one address space (TBI by ASN).
func (c *Cache) InvalidateASN(asn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, b := range c.blocks {
		if b.Asn == asn {
			c.drop(k, b)
		}
	}
}

// InvalidateAll drops everything (TBIA, IMB).
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, b := range c.blocks {
		c.drop(k, b)
	}
}

// caller holds c.mu
func (c *Cache) drop(k key, b *Block) {
	if b.Code != nil {
		b.Code.Release()
	}
	delete(c.blocks, k)
	c.stats.Invalidations++
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
