// Package merkle computes an inclusion-provable digest over a
// TruthState's evidence references. The compiler stamps the root into
// every state it assembles, so a third party holding one evidence ref
// and a short proof can check membership against a signed state without
// seeing the rest of the evidence set.
//
// Leaves and interior nodes are domain-separated by a prefix byte
// (0x00 for leaves, 0x01 for nodes); an odd node at any level is
// promoted unchanged rather than paired with itself. The input ref list
// must already be in canonical (sorted) order — the tree hashes what it
// is given and the root is position-sensitive.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

func leafHash(ref string) [sha256.Size]byte {
	buf := make([]byte, 0, 1+len(ref))
	buf = append(buf, leafPrefix)
	buf = append(buf, ref...)
	return sha256.Sum256(buf)
}

func nodeHash(left, right [sha256.Size]byte) [sha256.Size]byte {
	buf := make([]byte, 0, 1+2*sha256.Size)
	buf = append(buf, nodePrefix)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// Tree is the evidence tree for one state's ref list. levels[0] holds
// the leaf hashes; the last level holds the single root.
type Tree struct {
	refs   []string
	levels [][][sha256.Size]byte
}

// Build constructs the tree over refs in the given order. An empty ref
// list yields a tree with an empty root, matching a state that carries
// no evidence.
func Build(refs []string) *Tree {
	t := &Tree{refs: append([]string(nil), refs...)}
	if len(refs) == 0 {
		return t
	}

	level := make([][sha256.Size]byte, len(refs))
	for i, ref := range refs {
		level[i] = leafHash(ref)
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([][sha256.Size]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, nodeHash(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the lowercase hex root, or "" for an empty tree.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	return hex.EncodeToString(top[0][:])
}

// Root is the one-shot form used by the compiler during state assembly.
func Root(refs []string) string {
	return Build(refs).Root()
}

// Proof carries what a verifier needs besides the ref itself: the leaf's
// position and one sibling hash per level. An empty sibling entry marks
// a level where the node was promoted unpaired.
type Proof struct {
	Ref      string   `json:"ref"`
	Index    int      `json:"index"`
	Siblings []string `json:"siblings"`
}

// Prove returns the inclusion proof for ref, or false if the tree does
// not contain it.
func (t *Tree) Prove(ref string) (Proof, bool) {
	index := -1
	for i, r := range t.refs {
		if r == ref {
			index = i
			break
		}
	}
	if index < 0 {
		return Proof{}, false
	}

	p := Proof{Ref: ref, Index: index}
	i := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			p.Siblings = append(p.Siblings, hex.EncodeToString(level[sibling][:]))
		} else {
			p.Siblings = append(p.Siblings, "")
		}
		i /= 2
	}
	return p, true
}

// Verify recomputes the root from a proof and compares it to
// expectedRoot.
func Verify(p Proof, expectedRoot string) bool {
	cur := leafHash(p.Ref)
	i := p.Index
	for _, sibHex := range p.Siblings {
		if sibHex == "" {
			// promoted unpaired at this level
			i /= 2
			continue
		}
		sib, err := hex.DecodeString(sibHex)
		if err != nil || len(sib) != sha256.Size {
			return false
		}
		var sibling [sha256.Size]byte
		copy(sibling[:], sib)
		if i%2 == 0 {
			cur = nodeHash(cur, sibling)
		} else {
			cur = nodeHash(sibling, cur)
		}
		i /= 2
	}
	return hex.EncodeToString(cur[:]) == expectedRoot
}
