package syntax

import (
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"codeoverlay/internal/text"
)

// buildTree flattens the named nodes of a tree-sitter tree into an arena
// with UTF-16 ranges.
func buildTree(ts *sitter.Tree, source string, generation uint64) *Tree {
	units := byteUnits(source)
	var nodes []Node

	var walk func(n *sitter.Node, parent int)
	walk = func(n *sitter.Node, parent int) {
		start := units[clampByte(int(n.StartByte()), len(source))]
		end := units[clampByte(int(n.EndByte()), len(source))]
		idx := len(nodes)
		nodes = append(nodes, Node{
			Kind:   n.Type(),
			Range:  text.Range{Start: start, Length: end - start},
			Parent: parent,
			Error:  n.Type() == KindError || n.IsMissing(),
		})
		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			child := n.NamedChild(i)
			if child == nil {
				continue
			}
			walk(child, idx)
		}
	}

	if ts != nil {
		if root := ts.RootNode(); root != nil {
			walk(root, -1)
		}
	}
	return NewTree(generation, source, nodes)
}

func clampByte(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// byteUnits maps every byte index of source to its UTF-16 offset. Bytes
// inside a multi-byte sequence map to the offset of their rune.
func byteUnits(source string) []int {
	units := make([]int, len(source)+1)
	off := 0
	for i := 0; i < len(source); {
		r, size := utf8.DecodeRuneInString(source[i:])
		for j := 0; j < size; j++ {
			units[i+j] = off
		}
		if r >= 0x10000 {
			off += 2
		} else {
			off++
		}
		i += size
	}
	units[len(source)] = off
	return units
}

// pointAt computes the tree-sitter point (row, byte column) of byte index i.
func pointAt(source string, i int) sitter.Point {
	var row, col uint32
	for j := 0; j < i && j < len(source); j++ {
		if source[j] == '\n' {
			row++
			col = 0
		} else {
			col++
		}
	}
	return sitter.Point{Row: row, Column: col}
}
