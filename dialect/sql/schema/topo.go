package schema

import (
	"errors"
	"sort"
)

// ErrCyclicReference is returned when foreign keys form a cycle that
// cannot be ordered for creation.
var ErrCyclicReference = errors.New("lode/schema: cyclic table references")

// sortTables orders tables so every referenced table precedes its
// referents (Kahn's algorithm). Ties break alphabetically so the
// output is deterministic. References to tables outside the set are
// ignored.
func sortTables(tables []*Table) ([]*Table, error) {
	if len(tables) < 2 {
		return tables, nil
	}
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	indegree := make(map[string]int, len(tables))
	dependents := make(map[string][]string, len(tables))
	for _, t := range tables {
		indegree[t.Name] = 0
	}
	for _, t := range tables {
		for _, dep := range t.Dependencies() {
			if _, ok := byName[dep]; !ok {
				continue
			}
			indegree[t.Name]++
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	out := make([]*Table, 0, len(tables))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, byName[name])
		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}
	if len(out) != len(tables) {
		return nil, ErrCyclicReference
	}
	return out, nil
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// reverseTables returns a reversed copy, used to drop tables in the
// opposite order of creation.
func reverseTables(tables []*Table) []*Table {
	out := make([]*Table, len(tables))
	for i, t := range tables {
		out[len(tables)-1-i] = t
	}
	return out
}
