package database

import (
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/timefuse/timefuse-go/pkg/schedule"
)

type memUser struct {
	id       int64
	schedule int64
	name     string
	hash     []byte
	email    string
	cell     string
	present  bool
}

type memFriendship struct {
	a, b     int64
	accepted bool
}

// Memory is an in-memory Store with the same observable semantics as
// MySQL. It backs the dispatcher and worker tests.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[string]*memUser
	groups  map[string]int64
	members map[int64]map[int64]bool
	events  []Event
	friends []memFriendship
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*memUser),
		groups:  make(map[string]int64),
		members: make(map[int64]map[int64]bool),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) userByID(id int64) *memUser {
	for _, u := range m.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

// Close implements the Store interface.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Authenticate implements the Store interface.
func (m *Memory) Authenticate(user, pass string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(pass)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// CreateAccount implements the Store interface.
func (m *Memory) CreateAccount(user, pass, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.users[user]; ok {
		return ErrDuplicate
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		return err
	}
	m.users[user] = &memUser{id: m.id(), name: user, hash: hash, email: email, present: true}
	return nil
}

// UpdateUser implements the Store interface.
func (m *Memory) UpdateUser(oldUser, oldPass, newPass, newUser, newMail, newCell string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[oldUser]
	if !ok {
		return ErrNoSuchUser
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(oldPass)) != nil {
		return ErrBadCredentials
	}
	if newUser != "" && newUser != oldUser {
		if _, taken := m.users[newUser]; taken {
			return ErrDuplicate
		}
		delete(m.users, oldUser)
		u.name = newUser
		m.users[newUser] = u
	}
	if newPass != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcrypt.MinCost)
		if err != nil {
			return err
		}
		u.hash = hash
	}
	if newMail != "" {
		u.email = newMail
	}
	if newCell != "" {
		u.cell = newCell
	}
	return nil
}

// ResetPassword implements the Store interface.
func (m *Memory) ResetPassword(user, email, newPass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok || u.email != email {
		return ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcrypt.MinCost)
	if err != nil {
		return err
	}
	u.hash = hash
	return nil
}

// AccountInfo implements the Store interface.
func (m *Memory) AccountInfo(user string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return User{}, ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return User{}, ErrNoSuchUser
	}
	return User{ID: u.id, ScheduleID: u.schedule, Name: u.name, Email: u.email, Cell: u.cell}, nil
}

// CreateGroup implements the Store interface.
func (m *Memory) CreateGroup(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.groups[group]; ok {
		return ErrDuplicate
	}
	gid := m.id()
	m.groups[group] = gid
	m.members[gid] = make(map[int64]bool)
	return nil
}

// DeleteGroup implements the Store interface.
func (m *Memory) DeleteGroup(group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	gid, ok := m.groups[group]
	if !ok {
		return ErrNoSuchGroup
	}
	delete(m.groups, group)
	delete(m.members, gid)
	kept := m.events[:0]
	for _, ev := range m.events {
		if !(ev.IsGroup && ev.GroupID == gid) {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	return nil
}

// JoinGroup implements the Store interface.
func (m *Memory) JoinGroup(user, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	gid, ok := m.groups[group]
	if !ok {
		return ErrNoSuchGroup
	}
	if m.members[gid][u.id] {
		return ErrDuplicate
	}
	m.members[gid][u.id] = true
	return nil
}

// LeaveGroup implements the Store interface.
func (m *Memory) LeaveGroup(user, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	gid, ok := m.groups[group]
	if !ok {
		return ErrNoSuchGroup
	}
	if !m.members[gid][u.id] {
		return ErrNotFound
	}
	delete(m.members[gid], u.id)
	return nil
}

// ListGroups implements the Store interface.
func (m *Memory) ListGroups(user string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return nil, ErrNoSuchUser
	}
	var out []string
	for name, gid := range m.groups {
		if m.members[gid][u.id] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListGroupUsers implements the Store interface.
func (m *Memory) ListGroupUsers(group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	gid, ok := m.groups[group]
	if !ok {
		return nil, ErrNoSuchGroup
	}
	var out []string
	for uid := range m.members[gid] {
		if u := m.userByID(uid); u != nil {
			out = append(out, u.name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CreateEvent implements the Store interface.
func (m *Memory) CreateEvent(user string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	ev.ID = m.id()
	ev.OwnerID = u.id
	if !ev.IsGroup {
		ev.GroupID = 0
	}
	m.events = append(m.events, ev)
	return nil
}

func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Start.Equal(evs[j].Start) {
			return evs[i].ID < evs[j].ID
		}
		return evs[i].Start.Before(evs[j].Start)
	})
}

func overlaps(ev Event, window schedule.Span) bool {
	return ev.Start.Before(window.End) && ev.End.After(window.Start)
}

// EventsBetween implements the Store interface.
func (m *Memory) EventsBetween(user string, window schedule.Span) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return nil, ErrNoSuchUser
	}
	var out []Event
	for _, ev := range m.events {
		if ev.OwnerID == u.id && overlaps(ev, window) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

// GroupEventsBetween implements the Store interface.
func (m *Memory) GroupEventsBetween(group string, window schedule.Span) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	gid, ok := m.groups[group]
	if !ok {
		return nil, ErrNoSuchGroup
	}
	var out []Event
	for _, ev := range m.events {
		if m.members[gid][ev.OwnerID] && overlaps(ev, window) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) friendshipIdx(a, b int64) int {
	for i, f := range m.friends {
		if (f.a == a && f.b == b) || (f.a == b && f.b == a) {
			return i
		}
	}
	return -1
}

// FriendRequest implements the Store interface.
func (m *Memory) FriendRequest(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	fu, ok := m.users[from]
	if !ok {
		return ErrNoSuchUser
	}
	tu, ok := m.users[to]
	if !ok {
		return ErrNoSuchUser
	}
	if m.friendshipIdx(fu.id, tu.id) >= 0 {
		return ErrDuplicate
	}
	m.friends = append(m.friends, memFriendship{a: fu.id, b: tu.id})
	return nil
}

// AcceptFriend implements the Store interface.
func (m *Memory) AcceptFriend(user, friend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	f, ok := m.users[friend]
	if !ok {
		return ErrNoSuchUser
	}
	for i := range m.friends {
		fr := &m.friends[i]
		if fr.a == f.id && fr.b == u.id && !fr.accepted {
			fr.accepted = true
			return nil
		}
	}
	return ErrNotFound
}

// DeleteFriend implements the Store interface.
func (m *Memory) DeleteFriend(user, friend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	f, ok := m.users[friend]
	if !ok {
		return ErrNoSuchUser
	}
	i := m.friendshipIdx(u.id, f.id)
	if i < 0 {
		return ErrNotFound
	}
	m.friends = append(m.friends[:i], m.friends[i+1:]...)
	return nil
}

// Friends implements the Store interface.
func (m *Memory) Friends(user string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return nil, ErrNoSuchUser
	}
	var out []string
	for _, f := range m.friends {
		if !f.accepted {
			continue
		}
		var other int64
		switch u.id {
		case f.a:
			other = f.b
		case f.b:
			other = f.a
		default:
			continue
		}
		if ou := m.userByID(other); ou != nil {
			out = append(out, ou.name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// FriendRequests implements the Store interface.
func (m *Memory) FriendRequests(user string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return nil, ErrNoSuchUser
	}
	var out []string
	for _, f := range m.friends {
		if f.b == u.id && !f.accepted {
			if ou := m.userByID(f.a); ou != nil {
				out = append(out, ou.name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetPresence implements the Store interface.
func (m *Memory) SetPresence(user string, present bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	u, ok := m.users[user]
	if !ok {
		return ErrNoSuchUser
	}
	u.present = present
	return nil
}
