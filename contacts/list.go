package contacts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/c-pro/geche"
)

var (
	ErrUnknownUser  = errors.New("unknown user")
	ErrUnknownGroup = errors.New("unknown group")
)

// List is the session wide user and group cache. It is owned by the session
// and only used from its executor.
type List struct {
	users  geche.Geche[string, *User]
	groups geche.Geche[int, *Group]

	// Version is the list version last reported by SYN.
	Version int

	// Privacy settings from BLP and GTC.
	AllowUnknown    bool
	PromptOnReverse bool
}

func NewList() *List {
	return &List{
		users:           geche.NewMapCache[string, *User](),
		groups:          geche.NewMapCache[int, *Group](),
		AllowUnknown:    true,
		PromptOnReverse: true,
	}
}

func normalise(passport string) string {
	return strings.ToLower(strings.TrimSpace(passport))
}

// User looks a user up by passport.
func (l *List) User(passport string) (*User, error) {
	u, err := l.users.Get(normalise(passport))
	if err != nil {
		if errors.Is(err, geche.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", passport, ErrUnknownUser)
		}

		return nil, err
	}

	return u, nil
}

// Ensure returns the user for passport, creating it when needed. A non empty
// friendly name replaces the cached one.
func (l *List) Ensure(passport, friendly string) *User {
	key := normalise(passport)

	u, err := l.users.Get(key)
	if err != nil {
		u = newUser(passport, friendly)
		l.users.Set(key, u)
		return u
	}

	if friendly != "" {
		u.FriendlyName = friendly
	}

	return u
}

// AddToList puts the user on list, creating the user if needed.
func (l *List) AddToList(passport, friendly string, list Lists) *User {
	u := l.Ensure(passport, friendly)
	u.Lists |= list
	return u
}

// RemoveFromList clears list from the user. Removing a user from the forward
// list also drops its group memberships. Users left on no list are removed
// from the cache; the returned bool reports that.
func (l *List) RemoveFromList(passport string, list Lists) (*User, bool, error) {
	u, err := l.User(passport)
	if err != nil {
		return nil, false, err
	}

	u.Lists &^= list

	if list.Has(Forward) {
		for id := range u.groups {
			l.unref(id)
		}
		u.groups = make(map[int]struct{})
	}

	if u.Lists == 0 {
		if err := l.users.Del(normalise(passport)); err != nil && !errors.Is(err, geche.ErrNotFound) {
			return u, false, err
		}

		return u, true, nil
	}

	return u, false, nil
}

// AddToGroup records that the user belongs to group id.
func (l *List) AddToGroup(passport string, id int) error {
	u, err := l.User(passport)
	if err != nil {
		return err
	}

	g, err := l.Group(id)
	if err != nil {
		return err
	}

	if _, ok := u.groups[id]; ok {
		return nil
	}

	u.groups[id] = struct{}{}
	g.members++

	return nil
}

func (l *List) RemoveFromGroup(passport string, id int) error {
	u, err := l.User(passport)
	if err != nil {
		return err
	}

	if _, ok := u.groups[id]; !ok {
		return nil
	}

	delete(u.groups, id)
	l.unref(id)

	return nil
}

func (l *List) unref(id int) {
	if g, err := l.groups.Get(id); err == nil && g.members > 0 {
		g.members--
	}
}

func (l *List) Group(id int) (*Group, error) {
	g, err := l.groups.Get(id)
	if err != nil {
		if errors.Is(err, geche.ErrNotFound) {
			return nil, fmt.Errorf("group %d: %w", id, ErrUnknownGroup)
		}

		return nil, err
	}

	return g, nil
}

// GroupByName finds a group by its display name.
func (l *List) GroupByName(name string) (*Group, bool) {
	for _, g := range l.groups.Snapshot() {
		if g.Name == name {
			return g, true
		}
	}

	return nil, false
}

// AddGroup creates or renames group id.
func (l *List) AddGroup(id int, name string) *Group {
	g, err := l.groups.Get(id)
	if err == nil {
		g.Name = name
		return g
	}

	g = &Group{ID: id, Name: name}
	l.groups.Set(id, g)

	return g
}

// RemoveGroup deletes the group and drops it from every member.
func (l *List) RemoveGroup(id int) error {
	if _, err := l.Group(id); err != nil {
		return err
	}

	for _, u := range l.users.Snapshot() {
		delete(u.groups, id)
	}

	return l.groups.Del(id)
}

// Users returns every cached user ordered by passport.
func (l *List) Users() []*User {
	snap := l.users.Snapshot()

	users := make([]*User, 0, len(snap))
	for _, u := range snap {
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].Passport < users[j].Passport
	})

	return users
}

// Groups returns every group ordered by id.
func (l *List) Groups() []*Group {
	snap := l.groups.Snapshot()

	groups := make([]*Group, 0, len(snap))
	for _, g := range snap {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ID < groups[j].ID
	})

	return groups
}

func (l *List) Len() int {
	return l.users.Len()
}

// Reset empties the cache ahead of a full list download.
func (l *List) Reset() {
	l.users = geche.NewMapCache[string, *User]()
	l.groups = geche.NewMapCache[int, *Group]()
}

// SetAllOffline marks every user offline, used when the notification
// connection is lost.
func (l *List) SetAllOffline() {
	for _, u := range l.users.Snapshot() {
		u.Presence = Offline
	}
}
