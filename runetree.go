package bbpe

type RuneNode struct {
	rune     rune               // The rune this node represents.
	runes    []rune             // The prior runes that led to this node.
	terminal bool               // If this node ends a special token.
	childs   map[rune]*RuneNode // The child nodes.
}

// evaluate steps from node along r, returning the child and whether it ends
// a special token. A nil child means there is no continuation.
func (node *RuneNode) evaluate(r rune) (*RuneNode, bool) {
	if node == nil {
		return nil, false
	}
	child, ok := node.childs[r]
	if ok {
		return child, child.terminal
	}
	return nil, false
}

// longestMatch returns the rune length of the longest special token that
// starts at runes[start], or 0.
func (root *RuneNode) longestMatch(runes []rune, start int) int {
	matched := 0
	node := root
	for idx := start; idx < len(runes); idx++ {
		var terminal bool
		node, terminal = node.evaluate(runes[idx])
		if node == nil {
			break
		}
		if terminal {
			matched = idx - start + 1
		}
	}
	return matched
}

func newRuneTree(specials []string) *RuneNode {
	runeTree := &RuneNode{
		runes:  []rune{},
		childs: make(map[rune]*RuneNode),
	}

	for _, k := range specials {
		keyRunes := []rune(k)
		keyLen := len(keyRunes)
		node := runeTree
		for i := 0; i < keyLen; i++ {
			r := keyRunes[i]
			childNode, ok := node.childs[r]
			if !ok {
				childNode = &RuneNode{
					rune:     r,
					runes:    keyRunes[:i+1],
					terminal: i == keyLen-1,
					childs:   make(map[rune]*RuneNode),
				}
				node.childs[r] = childNode
			} else if i == keyLen-1 {
				childNode.terminal = true
			}
			node = childNode
		}
	}
	return runeTree
}
