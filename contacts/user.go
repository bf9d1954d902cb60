package contacts

import (
	"sort"
	"strings"
)

// Lists is the membership bitmask of a user.
type Lists uint8

const (
	Forward Lists = 1 << iota
	Allow
	Block
	Reverse
)

var listCodes = []struct {
	list Lists
	code string
}{
	{Forward, "FL"},
	{Allow, "AL"},
	{Block, "BL"},
	{Reverse, "RL"},
}

// ParseList maps a two letter list code such as "FL" to its bit.
func ParseList(code string) (Lists, bool) {
	for _, l := range listCodes {
		if l.code == code {
			return l.list, true
		}
	}

	return 0, false
}

func (l Lists) Has(other Lists) bool {
	return l&other == other
}

// Code returns the two letter code of a single list bit.
func (l Lists) Code() string {
	for _, c := range listCodes {
		if c.list == l {
			return c.code
		}
	}

	return ""
}

func (l Lists) String() string {
	var codes []string
	for _, c := range listCodes {
		if l&c.list != 0 {
			codes = append(codes, c.code)
		}
	}

	if len(codes) == 0 {
		return "none"
	}

	return strings.Join(codes, "|")
}

// Presence is the three letter status code used by CHG, NLN and ILN.
type Presence string

const (
	Offline     Presence = "FLN"
	Online      Presence = "NLN"
	Busy        Presence = "BSY"
	Idle        Presence = "IDL"
	BeRightBack Presence = "BRB"
	Away        Presence = "AWY"
	OnThePhone  Presence = "PHN"
	OutToLunch  Presence = "LUN"
	Hidden      Presence = "HDN"
)

// Valid reports whether p is a status the server knows about.
func (p Presence) Valid() bool {
	switch p {
	case Offline, Online, Busy, Idle, BeRightBack, Away, OnThePhone, OutToLunch, Hidden:
		return true
	default:
		return false
	}
}

// Phone slots carried by BPR and PRP.
const (
	PhoneHome   = "PHH"
	PhoneWork   = "PHW"
	PhoneMobile = "PHM"
)

// User is a buddy known to the session.
type User struct {
	Passport     string
	FriendlyName string
	Phones       map[string]string
	Presence     Presence
	Lists        Lists

	// DisplayObject is the MSNObject descriptor announced with NLN/ILN.
	DisplayObject string
	ClientID      uint32

	// MobileEnabled mirrors the MOB phone flag.
	MobileEnabled bool

	groups map[int]struct{}
}

func newUser(passport, friendly string) *User {
	if friendly == "" {
		friendly = passport
	}

	return &User{
		Passport:     passport,
		FriendlyName: friendly,
		Presence:     Offline,
		Phones:       make(map[string]string),
		groups:       make(map[int]struct{}),
	}
}

// GroupIDs returns the ids of the groups the user belongs to, sorted.
func (u *User) GroupIDs() []int {
	ids := make([]int, 0, len(u.groups))
	for id := range u.groups {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids
}

func (u *User) InGroup(id int) bool {
	_, ok := u.groups[id]
	return ok
}

// Online reports whether the user is anything but offline.
func (u *User) Online() bool {
	return u.Presence != Offline && u.Presence != ""
}

// NeedsAuthorization is true for users that added us but that we neither
// allowed nor blocked yet.
func (u *User) NeedsAuthorization() bool {
	return u.Lists.Has(Reverse) && !u.Lists.Has(Allow) && !u.Lists.Has(Block)
}

// Group is a named buddy group. Members counts the users referencing it.
type Group struct {
	ID      int
	Name    string
	members int
}

func (g *Group) Members() int {
	return g.members
}
