package sorter

import (
	"crypto/sha256"
	"reflect"
	"testing"
)

func wtxid(label string) [32]byte {
	return sha256.Sum256([]byte(label))
}

func node(wtxidLabel, txid string, fee float64, parentTxid string) Node {
	var inputs []Input
	if parentTxid != "" {
		inputs = append(inputs, Input{ParentTxid: parentTxid})
	}
	return Node{Wtxid: wtxid(wtxidLabel), Txid: txid, PriorityFee: fee, Inputs: inputs}
}

func labelsOf(t *testing.T, result []Node, labelByWtxid map[[32]byte]string) []string {
	t.Helper()
	out := make([]string, len(result))
	for i, n := range result {
		out[i] = labelByWtxid[n.Wtxid]
	}
	return out
}

// TestSorterCPFPChain exercises S1: a straight CPFP chain a->b->c->d plus
// an unrelated high-fee node e; d's fee of 50 propagates all the way back
// to a, which still must come first since it has no dependencies.
func TestSorterCPFPChain(t *testing.T) {
	a := node("a1", "a", 1, "")
	b := node("b1", "b", 2, "a")
	c := node("c1", "c", 3, "b")
	d := node("d1", "d", 50, "c")
	e := node("e1", "e", 40, "")

	labels := map[[32]byte]string{
		a.Wtxid: "a1", b.Wtxid: "b1", c.Wtxid: "c1", d.Wtxid: "d1", e.Wtxid: "e1",
	}

	result, err := Sort([]Node{a, b, c, d, e})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	got := labelsOf(t, result, labels)
	want := []string{"a1", "b1", "c1", "d1", "e1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestSorterMalleabilityInvariant exercises S2: two wtxid variants sharing
// one txid both gate a dependent child, and the result is identical under
// any permutation of the input slice.
func TestSorterMalleabilityInvariant(t *testing.T) {
	w1 := node("w1", "aa", 100, "")
	w2 := node("w2", "aa", 100, "")
	b1 := node("b1", "bb", 100, "")
	c1 := node("c1", "cc", 50, "aa")

	labels := map[[32]byte]string{
		w1.Wtxid: "w1", w2.Wtxid: "w2", b1.Wtxid: "b1", c1.Wtxid: "c1",
	}

	base := []Node{w1, w2, b1, c1}
	perms := [][]Node{
		{w1, w2, b1, c1},
		{c1, b1, w2, w1},
		{b1, w1, c1, w2},
		{w2, c1, w1, b1},
	}

	var reference []string
	for i, perm := range perms {
		result, err := Sort(perm)
		if err != nil {
			t.Fatalf("Sort perm %d: %v", i, err)
		}
		got := labelsOf(t, result, labels)

		cIdx, w1Idx, w2Idx := -1, -1, -1
		for idx, l := range got {
			switch l {
			case "c1":
				cIdx = idx
			case "w1":
				w1Idx = idx
			case "w2":
				w2Idx = idx
			}
		}
		if cIdx < w1Idx || cIdx < w2Idx {
			t.Fatalf("perm %d: expected c1 to follow both w1 and w2, got order %v", i, got)
		}

		if reference == nil {
			reference = got
		} else if !reflect.DeepEqual(got, reference) {
			t.Fatalf("perm %d: order %v diverged from reference %v", i, got, reference)
		}
	}
	_ = base
}

func TestSorterDuplicateWtxidIsMalformed(t *testing.T) {
	a := node("dup", "aa", 1, "")
	b := node("dup", "bb", 2, "")
	_, err := Sort([]Node{a, b})
	var malformed *MalformedInputError
	if err == nil {
		t.Fatalf("expected MalformedInputError")
	}
	if ok := asMalformed(err, &malformed); !ok {
		t.Fatalf("expected *MalformedInputError, got %T", err)
	}
}

func asMalformed(err error, target **MalformedInputError) bool {
	if m, ok := err.(*MalformedInputError); ok {
		*target = m
		return true
	}
	return false
}

func TestSorterSelfReferenceIsFolded(t *testing.T) {
	self := node("s1", "ss", 5, "ss")
	other := node("o1", "oo", 3, "")

	result, err := Sort([]Node{self, other})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected both nodes emitted despite self-reference, got %d", len(result))
	}
}

func TestSorterIgnoresUnknownParentTxid(t *testing.T) {
	orphan := node("x1", "xx", 10, "does-not-exist")
	result, err := Sort([]Node{orphan})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected orphan to be emitted as ready, got %d", len(result))
	}
}
