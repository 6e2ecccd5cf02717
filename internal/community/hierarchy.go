package community

import (
	"cmp"
	"slices"

	"github.com/MrWong99/questweaver/internal/entity"
)

// TreeNode is one community with its child communities on the level below.
type TreeNode struct {
	Community entity.Community `json:"community"`
	Children  []TreeNode       `json:"children"`
}

// BuildHierarchyTree arranges communities into a forest by ParentID. A
// community whose parent is absent from cs becomes a root. Roots are ordered
// by level (coarsest first), siblings by size then ID. Parent cycles are cut
// at the first repeated community.
func BuildHierarchyTree(cs []entity.Community) []TreeNode {
	byID := make(map[string]entity.Community, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
	}
	children := make(map[string][]entity.Community)
	var roots []entity.Community
	for _, c := range byID {
		if _, ok := byID[c.ParentID]; c.ParentID == "" || c.ParentID == c.ID || !ok {
			roots = append(roots, c)
			continue
		}
		children[c.ParentID] = append(children[c.ParentID], c)
	}
	for _, kids := range children {
		slices.SortFunc(kids, siblingOrder)
	}
	slices.SortFunc(roots, func(a, b entity.Community) int {
		return cmp.Or(cmp.Compare(b.Level, a.Level), siblingOrder(a, b))
	})

	visited := make(map[string]bool, len(byID))
	var build func(c entity.Community) TreeNode
	build = func(c entity.Community) TreeNode {
		visited[c.ID] = true
		n := TreeNode{Community: c, Children: make([]TreeNode, 0, len(children[c.ID]))}
		for _, k := range children[c.ID] {
			if visited[k.ID] {
				continue
			}
			n.Children = append(n.Children, build(k))
		}
		return n
	}

	out := make([]TreeNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	// Members of a pure parent cycle have no root; promote them.
	var rest []entity.Community
	for id, c := range byID {
		if !visited[id] {
			rest = append(rest, c)
		}
	}
	slices.SortFunc(rest, siblingOrder)
	for _, c := range rest {
		if !visited[c.ID] {
			out = append(out, build(c))
		}
	}
	return out
}

func siblingOrder(a, b entity.Community) int {
	return cmp.Or(cmp.Compare(b.Size(), a.Size()), cmp.Compare(a.ID, b.ID))
}

// Flatten returns the communities of a forest in pre-order.
func Flatten(forest []TreeNode) []entity.Community {
	var out []entity.Community
	stack := make([]TreeNode, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, forest[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.Community)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
