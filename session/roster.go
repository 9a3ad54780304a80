package session

import "github.com/samber/lo"

// roster is the ordered set of connected identities.
type roster struct {
	members []string
}

func (r *roster) add(identity string) bool {
	if lo.Contains(r.members, identity) {
		return false
	}
	r.members = append(r.members, identity)
	return true
}

func (r *roster) remove(identity string) bool {
	if !lo.Contains(r.members, identity) {
		return false
	}
	r.members = lo.Without(r.members, identity)
	return true
}

func (r *roster) clear() {
	r.members = nil
}

func (r *roster) list() []string {
	return append([]string(nil), r.members...)
}
