// Package resolver orders view migration by view-to-view references and
// applies views in bounded retry passes, deferring views whose DDL fails
// because something they reference does not exist yet.
package resolver

import (
	"github.com/ha1tch/tsqlpg/transpiler"
)

// View is one view of a migration batch.
type View struct {
	Name       string // bare name; compared case-insensitively
	Definition string // T-SQL or converted definition, scanned for references
	DDL        string // DDL to apply
}

// Graph maps each view of a batch to the batch views it references.
// References to objects outside the batch are ignored.
type Graph struct {
	names []string // discovery order
	deps  map[string][]string
}

// BuildGraph scans every view definition for relations named after FROM,
// JOIN and APPLY, and in comma-separated FROM lists.
func BuildGraph(views []View) *Graph {
	g := &Graph{deps: make(map[string][]string)}
	batch := make(map[string]bool, len(views))
	for _, v := range views {
		name := transpiler.ObjectName(v.Name)
		if batch[name] {
			continue
		}
		batch[name] = true
		g.names = append(g.names, name)
	}
	for _, v := range views {
		name := transpiler.ObjectName(v.Name)
		if _, done := g.deps[name]; done {
			continue
		}
		seen := make(map[string]bool)
		var deps []string
		for _, ref := range References(v.Definition) {
			if ref == name || !batch[ref] || seen[ref] {
				continue
			}
			seen[ref] = true
			deps = append(deps, ref)
		}
		g.deps[name] = deps
	}
	return g
}

// Names returns the batch views in discovery order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Dependencies returns the batch views that name references.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.deps[transpiler.ObjectName(name)]...)
}

// Order returns the views so that each follows the views it references.
// Views left over by a cycle are appended in discovery order.
func (g *Graph) Order() []string {
	indegree := make(map[string]int, len(g.names))
	dependents := make(map[string][]string)
	for _, name := range g.names {
		for _, dep := range g.deps[name] {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range g.names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(g.names))
	placed := make(map[string]bool, len(g.names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		placed[name] = true
		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	for _, name := range g.names {
		if !placed[name] {
			order = append(order, name)
		}
	}
	return order
}

// References returns the lower-case names of the relations a definition
// reads from, in order of appearance and with repeats.
func References(def string) []string {
	toks := significantTokens(transpiler.Tokenize(def))
	var refs []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.Is("FROM", "JOIN", "APPLY") {
			continue
		}
		list := t.Is("FROM")
		j := i + 1
		for {
			name, next := relationName(toks, j)
			if name == "" {
				break
			}
			refs = append(refs, name)
			next = skipAlias(toks, next)
			if !list || !toks[next].IsPunct(",") {
				break
			}
			j = next + 1
		}
	}
	return refs
}

// relationName reads a possibly qualified name starting at i. A function
// call or subquery yields no name.
func relationName(toks []transpiler.Token, i int) (string, int) {
	j := i
	if !isNamePart(toks[j]) {
		return "", i
	}
	last := toks[j].Text
	j++
	for toks[j].IsPunct(".") {
		for toks[j].IsPunct(".") {
			j++
		}
		if !isNamePart(toks[j]) {
			return "", i
		}
		last = toks[j].Text
		j++
	}
	if toks[j].IsPunct("(") {
		return "", i
	}
	return transpiler.ObjectName(last), j
}

// isNamePart reports whether t can be one part of a relation name. Some
// keywords double as table names, so only clause keywords are excluded.
func isNamePart(t transpiler.Token) bool {
	switch t.Kind {
	case transpiler.TokenIdentifier, transpiler.TokenQuotedIdentifier:
		return true
	case transpiler.TokenKeyword:
		return !t.Is("SELECT", "WHERE", "ON", "GROUP", "ORDER", "UNION", "LEFT", "RIGHT",
			"INNER", "OUTER", "CROSS", "FULL", "JOIN", "AS", "WITH", "HAVING", "EXCEPT",
			"INTERSECT", "OPTION", "FOR")
	}
	return false
}

// skipAlias steps over "AS alias" or a bare alias.
func skipAlias(toks []transpiler.Token, i int) int {
	if toks[i].Is("AS") && i+1 < len(toks)-1 {
		return i + 2
	}
	if toks[i].Kind == transpiler.TokenIdentifier || toks[i].Kind == transpiler.TokenQuotedIdentifier {
		return i + 1
	}
	return i
}

// significantTokens drops whitespace and comments, keeping the end marker.
func significantTokens(toks []transpiler.Token) []transpiler.Token {
	out := make([]transpiler.Token, 0, len(toks))
	for _, t := range toks {
		if !t.IsTrivia() {
			out = append(out, t)
		}
	}
	return out
}
