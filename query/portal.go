package query

// Portal is a named server-side result cursor bound from a Query. A
// Portal retains its Query with a strong reference — per §3, "a
// portal cannot outlive its statement" — which is also why reclamation of
// a Query cannot fire until every Portal opened against it is gone (see
// package reclaim).
type Portal struct {
	Query *Query
	Name  string
}

// NewPortal binds name against q. An empty name denotes the unnamed
// portal.
func NewPortal(q *Query, name string) *Portal {
	return &Portal{Query: q, Name: name}
}

// Unnamed reports whether this is the unnamed portal slot.
func (p *Portal) Unnamed() bool { return p.Name == "" }
