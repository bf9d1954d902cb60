package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/protocol"
)

var ErrMalformedCommand = errors.New("Malformed command")

// DefaultVersions are proposed in this order when Config.Versions is empty.
var DefaultVersions = []string{"MSNP9", "MSNP8"}

// syncReply is what a version makes of the SYN reply.
type syncReply struct {
	Version int

	// Count is the number of LST and LSG entries that follow, unless Open
	// is set. Open downloads end on an entry flagged last.
	Count int
	Open  bool
}

type listEntry struct {
	Passport string
	Friendly string
	Lists    contacts.Lists
	Groups   []int

	// empty marks a list header carrying no user
	empty bool
	last  bool
}

type groupEntry struct {
	ID    int
	Name  string
	empty bool
}

// version isolates what differs between protocol revisions. Everything
// else is shared.
type version interface {
	Name() string

	// clientInfo is sent right after VER is accepted.
	clientInfo(cfg *Config) *client.Transaction
	// authMethod is the USR security package, TWN or MD5.
	authMethod() string

	syncReply(cmd *protocol.Command, sent int) (syncReply, error)
	listEntry(cmd *protocol.Command) (listEntry, error)
	groupEntry(cmd *protocol.Command) (groupEntry, error)

	presenceParams(status contacts.Presence, clientID uint32) []string
}

func lookupVersion(name string) (version, bool) {
	switch name {
	case "MSNP9", "MSNP8":
		return msnp8{name: name}, true
	case "MSNP7":
		return msnp7{}, true
	default:
		return nil, false
	}
}

// msnp8 covers MSNP8 and MSNP9, which only differ in features this engine
// does not negotiate.
type msnp8 struct {
	name string
}

func (v msnp8) Name() string {
	return v.name
}

func (v msnp8) clientInfo(cfg *Config) *client.Transaction {
	return client.NewTransaction(protocol.CVR,
		cfg.Locale, "winnt", "5.1", "i386", "MSNMSGR", cfg.ClientVersion, "MSMSGS", cfg.Account)
}

func (v msnp8) authMethod() string {
	return "TWN"
}

// SYN trid version [users groups]
func (v msnp8) syncReply(cmd *protocol.Command, sent int) (syncReply, error) {
	ver, err := strconv.Atoi(cmd.Param(1))
	if err != nil {
		return syncReply{}, fmt.Errorf("SYN version %q: %w", cmd.Param(1), ErrMalformedCommand)
	}

	if len(cmd.Params) < 4 {
		return syncReply{Version: ver}, nil
	}

	users, uerr := strconv.Atoi(cmd.Param(2))
	groups, gerr := strconv.Atoi(cmd.Param(3))
	if uerr != nil || gerr != nil || users < 0 || groups < 0 {
		return syncReply{}, fmt.Errorf("SYN counts: %w", ErrMalformedCommand)
	}

	return syncReply{Version: ver, Count: users + groups}, nil
}

// LST passport friendly lists [group,group]
func (v msnp8) listEntry(cmd *protocol.Command) (listEntry, error) {
	if len(cmd.Params) < 3 {
		return listEntry{}, ErrMalformedCommand
	}

	lists, err := strconv.Atoi(cmd.Param(2))
	if err != nil {
		return listEntry{}, fmt.Errorf("LST lists %q: %w", cmd.Param(2), ErrMalformedCommand)
	}

	return listEntry{
		Passport: cmd.Param(0),
		Friendly: protocol.URLDecode(cmd.Param(1)),
		Lists:    contacts.Lists(lists),
		Groups:   parseGroupIDs(cmd.Param(3)),
	}, nil
}

// LSG id name 0
func (v msnp8) groupEntry(cmd *protocol.Command) (groupEntry, error) {
	id, err := strconv.Atoi(cmd.Param(0))
	if err != nil {
		return groupEntry{}, fmt.Errorf("LSG id %q: %w", cmd.Param(0), ErrMalformedCommand)
	}

	return groupEntry{ID: id, Name: protocol.URLDecode(cmd.Param(1))}, nil
}

func (v msnp8) presenceParams(status contacts.Presence, clientID uint32) []string {
	return []string{string(status), strconv.FormatUint(uint64(clientID), 10)}
}

// msnp7 uses MD5 authentication and sends one LST line per list membership,
// each carrying its position in that list.
type msnp7 struct{}

func (msnp7) Name() string {
	return "MSNP7"
}

func (msnp7) clientInfo(cfg *Config) *client.Transaction {
	return client.NewTransaction(protocol.INF)
}

func (msnp7) authMethod() string {
	return "MD5"
}

// SYN trid version. Nothing follows when the version did not change.
func (msnp7) syncReply(cmd *protocol.Command, sent int) (syncReply, error) {
	ver, err := strconv.Atoi(cmd.Param(1))
	if err != nil {
		return syncReply{}, fmt.Errorf("SYN version %q: %w", cmd.Param(1), ErrMalformedCommand)
	}

	return syncReply{Version: ver, Open: ver != sent}, nil
}

// LST trid list version index count [passport friendly [group]]
func (msnp7) listEntry(cmd *protocol.Command) (listEntry, error) {
	if len(cmd.Params) < 5 {
		return listEntry{}, ErrMalformedCommand
	}

	list, ok := contacts.ParseList(cmd.Param(1))
	if !ok {
		return listEntry{}, fmt.Errorf("LST list %q: %w", cmd.Param(1), ErrMalformedCommand)
	}

	index, ierr := strconv.Atoi(cmd.Param(3))
	count, cerr := strconv.Atoi(cmd.Param(4))
	if ierr != nil || cerr != nil {
		return listEntry{}, fmt.Errorf("LST position: %w", ErrMalformedCommand)
	}

	// The reverse list comes last
	e := listEntry{
		Lists: list,
		last:  list == contacts.Reverse && index == count,
	}

	if count == 0 || len(cmd.Params) < 7 {
		e.empty = true
		return e, nil
	}

	e.Passport = cmd.Param(5)
	e.Friendly = protocol.URLDecode(cmd.Param(6))
	e.Groups = parseGroupIDs(cmd.Param(7))

	return e, nil
}

// LSG trid version index count id name flag
func (msnp7) groupEntry(cmd *protocol.Command) (groupEntry, error) {
	if cmd.IntParam(3) == 0 {
		return groupEntry{empty: true}, nil
	}

	id, err := strconv.Atoi(cmd.Param(4))
	if err != nil {
		return groupEntry{}, fmt.Errorf("LSG id %q: %w", cmd.Param(4), ErrMalformedCommand)
	}

	return groupEntry{ID: id, Name: protocol.URLDecode(cmd.Param(5))}, nil
}

func (msnp7) presenceParams(status contacts.Presence, clientID uint32) []string {
	return []string{string(status)}
}

func parseGroupIDs(s string) []int {
	if s == "" {
		return nil
	}

	var ids []int
	for _, part := range strings.Split(s, ",") {
		if id, err := strconv.Atoi(part); err == nil {
			ids = append(ids, id)
		}
	}

	return ids
}
