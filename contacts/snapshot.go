package contacts

import (
	"sort"
)

// Snapshot is the persistable form of a List, used to diff the list we
// remembered from the previous run against what the server sends.
type Snapshot struct {
	Account string          `json:"account" msgpack:"account"`
	Version int             `json:"version" msgpack:"version"`
	Users   []SnapshotUser  `json:"users" msgpack:"users"`
	Groups  []SnapshotGroup `json:"groups" msgpack:"groups"`
}

type SnapshotUser struct {
	Passport     string `json:"passport" msgpack:"passport"`
	FriendlyName string `json:"friendlyName" msgpack:"friendlyName"`
	Lists        Lists  `json:"lists" msgpack:"lists"`
	Groups       []int  `json:"groups,omitempty" msgpack:"groups"`
}

type SnapshotGroup struct {
	ID   int    `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// Snapshot captures the current memberships of every user and group.
func (l *List) Snapshot(account string) *Snapshot {
	s := &Snapshot{Account: account, Version: l.Version}

	for _, u := range l.Users() {
		s.Users = append(s.Users, SnapshotUser{
			Passport:     u.Passport,
			FriendlyName: u.FriendlyName,
			Lists:        u.Lists,
			Groups:       u.GroupIDs(),
		})
	}

	for _, g := range l.Groups() {
		s.Groups = append(s.Groups, SnapshotGroup{ID: g.ID, Name: g.Name})
	}

	return s
}

// Restore fills an empty List from a snapshot. Group references to unknown
// groups are dropped.
func (l *List) Restore(s *Snapshot) {
	l.Reset()
	l.Version = s.Version

	for _, g := range s.Groups {
		l.AddGroup(g.ID, g.Name)
	}

	for _, su := range s.Users {
		l.AddToList(su.Passport, su.FriendlyName, su.Lists)
		for _, id := range su.Groups {
			// Unknown groups are simply skipped
			_ = l.AddToGroup(su.Passport, id)
		}
	}
}

// InconsistencyKind says how a remembered entry differs from the server.
type InconsistencyKind int

const (
	// UserMissing: a remembered buddy is no longer on the server's list.
	UserMissing InconsistencyKind = iota
	// ListsChanged: the buddy's list membership differs.
	ListsChanged
	// GroupsChanged: the buddy's group membership differs.
	GroupsChanged
	// GroupMissing: a remembered group is gone.
	GroupMissing
)

func (k InconsistencyKind) String() string {
	switch k {
	case UserMissing:
		return "user missing"
	case ListsChanged:
		return "lists changed"
	case GroupsChanged:
		return "groups changed"
	case GroupMissing:
		return "group missing"
	default:
		return "unknown"
	}
}

// Inconsistency is one difference between the remembered list and the
// server's copy.
type Inconsistency struct {
	Kind InconsistencyKind

	// Passport is set for user inconsistencies.
	Passport string

	// GroupID and Name identify the group for GroupMissing, Name holds the
	// friendly name for user inconsistencies.
	GroupID int
	Name    string

	OldLists Lists
	NewLists Lists

	OldGroups []int
	NewGroups []int
}

// Diff compares the remembered snapshot with the freshly synced one. Each
// remembered user or group yields at most one inconsistency. Entries that
// only exist on the server are not inconsistencies.
func Diff(remembered, current *Snapshot) []Inconsistency {
	if remembered == nil {
		return nil
	}

	users := make(map[string]SnapshotUser, len(current.Users))
	for _, u := range current.Users {
		users[normalise(u.Passport)] = u
	}

	groups := make(map[int]SnapshotGroup, len(current.Groups))
	for _, g := range current.Groups {
		groups[g.ID] = g
	}

	var out []Inconsistency

	for _, old := range remembered.Users {
		// Only buddies we put on our forward list are worth reporting
		if !old.Lists.Has(Forward) {
			continue
		}

		now, ok := users[normalise(old.Passport)]
		switch {
		case !ok:
			out = append(out, Inconsistency{
				Kind:      UserMissing,
				Passport:  old.Passport,
				Name:      old.FriendlyName,
				OldLists:  old.Lists,
				OldGroups: old.Groups,
			})

		case old.Lists&^Reverse != now.Lists&^Reverse:
			out = append(out, Inconsistency{
				Kind:     ListsChanged,
				Passport: old.Passport,
				Name:     old.FriendlyName,
				OldLists: old.Lists,
				NewLists: now.Lists,
			})

		case !sameInts(old.Groups, now.Groups):
			out = append(out, Inconsistency{
				Kind:      GroupsChanged,
				Passport:  old.Passport,
				Name:      old.FriendlyName,
				OldGroups: old.Groups,
				NewGroups: now.Groups,
			})
		}
	}

	for _, old := range remembered.Groups {
		if _, ok := groups[old.ID]; !ok {
			out = append(out, Inconsistency{
				Kind:    GroupMissing,
				GroupID: old.ID,
				Name:    old.Name,
			})
		}
	}

	return out
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	a = append([]int(nil), a...)
	b = append([]int(nil), b...)
	sort.Ints(a)
	sort.Ints(b)

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
