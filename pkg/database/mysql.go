package database

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/timefuse/timefuse-go/pkg/schedule"
)

// userCacheSize bounds the user_name to user_id cache. Nearly every
// query starts with that lookup.
const userCacheSize = 1024

const eventColumns = "e.event_id, e.owner_id, e.title, e.location, e.start_ts, e.end_ts," +
	" e.repeat_rule, e.notes, e.color, e.is_group, e.group_id"

// MySQL is a Store backed by a MySQL server. Every query funnels
// through a single goroutine owning the handle, so callers never touch
// the connection concurrently.
type MySQL struct {
	db  *sql.DB
	ids *lru.Cache
	log *zap.Logger

	cmdCh     chan func(*sql.DB)
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMySQL opens a connection with the given settings and verifies it
// with a ping.
func NewMySQL(cfg Config, log *zap.Logger) (*MySQL, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, errors.Wrap(err, "unable to open database")
	}
	// The worker serves one client at a time, one connection is enough.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to reach database")
	}

	cache, err := lru.New(userCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &MySQL{
		db:    db,
		ids:   cache,
		log:   log,
		cmdCh: make(chan func(*sql.DB)),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run()

	log.Info("connected to database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))
	return s, nil
}

func (c Config) dsn() string {
	host := c.Host
	if !strings.Contains(host, ":") {
		host += ":3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", c.User, c.Password, host, c.Name)
}

// run owns the database handle. Store methods hand it closures via
// exec and wait for them to finish.
func (s *MySQL) run() {
	defer close(s.done)
	defer s.db.Close()
	for {
		select {
		case cmd := <-s.cmdCh:
			cmd(s.db)
		case <-s.quit:
			return
		}
	}
}

// exec schedules cmd on the run loop and blocks until it completes.
func (s *MySQL) exec(cmd func(*sql.DB) error) error {
	errCh := make(chan error, 1)
	select {
	case s.cmdCh <- func(db *sql.DB) { errCh <- cmd(db) }:
		return <-errCh
	case <-s.quit:
		return ErrClosed
	}
}

// Close stops the run loop and closes the handle. Safe to call more
// than once.
func (s *MySQL) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// userID resolves a user name, consulting the cache first.
func (s *MySQL) userID(db *sql.DB, name string) (int64, error) {
	if id, ok := s.ids.Get(name); ok {
		return id.(int64), nil
	}
	var id int64
	err := db.QueryRow("SELECT user_id FROM users WHERE user_name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNoSuchUser
	}
	if err != nil {
		return 0, err
	}
	s.ids.Add(name, id)
	return id, nil
}

func groupID(db *sql.DB, name string) (int64, error) {
	var id int64
	err := db.QueryRow("SELECT group_id FROM groups WHERE group_name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNoSuchGroup
	}
	return id, err
}

func names(db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var evs []Event
	for rows.Next() {
		var (
			ev    Event
			group sql.NullInt64
		)
		err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.Location, &ev.Start, &ev.End,
			&ev.Repeat, &ev.Notes, &ev.Color, &ev.IsGroup, &group)
		if err != nil {
			return nil, err
		}
		ev.GroupID = group.Int64
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// Authenticate implements the Store interface.
func (s *MySQL) Authenticate(user, pass string) error {
	return s.exec(func(db *sql.DB) error {
		var hash string
		err := db.QueryRow("SELECT passwd FROM users WHERE user_name = ?", user).Scan(&hash)
		if err == sql.ErrNoRows {
			return ErrNoSuchUser
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
			return ErrBadCredentials
		}
		return nil
	})
}

// CreateAccount implements the Store interface.
func (s *MySQL) CreateAccount(user, pass, email string) error {
	return s.exec(func(db *sql.DB) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = db.Exec(
			"INSERT INTO users (schedule_id, user_name, passwd, email) VALUES (0, ?, ?, ?)",
			user, string(hash), email)
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	})
}

// UpdateUser implements the Store interface. Empty new values leave
// the corresponding column untouched.
func (s *MySQL) UpdateUser(oldUser, oldPass, newPass, newUser, newMail, newCell string) error {
	return s.exec(func(db *sql.DB) error {
		var (
			id   int64
			hash string
		)
		err := db.QueryRow("SELECT user_id, passwd FROM users WHERE user_name = ?", oldUser).
			Scan(&id, &hash)
		if err == sql.ErrNoRows {
			return ErrNoSuchUser
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPass)) != nil {
			return ErrBadCredentials
		}

		sets := make([]string, 0, 4)
		args := make([]any, 0, 5)
		if newUser != "" && newUser != oldUser {
			sets = append(sets, "user_name = ?")
			args = append(args, newUser)
		}
		if newPass != "" {
			newHash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			sets = append(sets, "passwd = ?")
			args = append(args, string(newHash))
		}
		if newMail != "" {
			sets = append(sets, "email = ?")
			args = append(args, newMail)
		}
		if newCell != "" {
			sets = append(sets, "cell = ?")
			args = append(args, newCell)
		}
		if len(sets) == 0 {
			return nil
		}
		args = append(args, id)
		if _, err := db.Exec("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE user_id = ?", args...); err != nil {
			if isDuplicate(err) {
				return ErrDuplicate
			}
			return err
		}
		s.ids.Remove(oldUser)
		return nil
	})
}

// ResetPassword implements the Store interface. The user name and the
// email must match the same account.
func (s *MySQL) ResetPassword(user, email, newPass string) error {
	return s.exec(func(db *sql.DB) error {
		var id int64
		err := db.QueryRow("SELECT user_id FROM users WHERE user_name = ? AND email = ?", user, email).
			Scan(&id)
		if err == sql.ErrNoRows {
			return ErrBadCredentials
		}
		if err != nil {
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, err = db.Exec("UPDATE users SET passwd = ? WHERE user_id = ?", string(hash), id)
		return err
	})
}

// AccountInfo implements the Store interface.
func (s *MySQL) AccountInfo(user string) (User, error) {
	var u User
	err := s.exec(func(db *sql.DB) error {
		err := db.QueryRow(
			"SELECT user_id, schedule_id, user_name, email, cell FROM users WHERE user_name = ?", user).
			Scan(&u.ID, &u.ScheduleID, &u.Name, &u.Email, &u.Cell)
		if err == sql.ErrNoRows {
			return ErrNoSuchUser
		}
		return err
	})
	return u, err
}

// CreateGroup implements the Store interface.
func (s *MySQL) CreateGroup(group string) error {
	return s.exec(func(db *sql.DB) error {
		_, err := db.Exec("INSERT INTO groups (group_name) VALUES (?)", group)
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	})
}

// DeleteGroup implements the Store interface. Memberships and group
// events go with the group.
func (s *MySQL) DeleteGroup(group string) error {
	return s.exec(func(db *sql.DB) error {
		id, err := groupID(db, group)
		if err != nil {
			return err
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, q := range []string{
			"DELETE FROM user_groups WHERE group_id = ?",
			"DELETE FROM events WHERE is_group = 1 AND group_id = ?",
			"DELETE FROM groups WHERE group_id = ?",
		} {
			if _, err := tx.Exec(q, id); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// JoinGroup implements the Store interface.
func (s *MySQL) JoinGroup(user, group string) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		gid, err := groupID(db, group)
		if err != nil {
			return err
		}
		_, err = db.Exec("INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)", uid, gid)
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	})
}

// LeaveGroup implements the Store interface.
func (s *MySQL) LeaveGroup(user, group string) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		gid, err := groupID(db, group)
		if err != nil {
			return err
		}
		res, err := db.Exec("DELETE FROM user_groups WHERE user_id = ? AND group_id = ?", uid, gid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListGroups implements the Store interface.
func (s *MySQL) ListGroups(user string) ([]string, error) {
	var out []string
	err := s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		out, err = names(db,
			"SELECT g.group_name FROM groups g"+
				" JOIN user_groups ug ON ug.group_id = g.group_id"+
				" WHERE ug.user_id = ? ORDER BY g.group_name", uid)
		return err
	})
	return out, err
}

// ListGroupUsers implements the Store interface.
func (s *MySQL) ListGroupUsers(group string) ([]string, error) {
	var out []string
	err := s.exec(func(db *sql.DB) error {
		gid, err := groupID(db, group)
		if err != nil {
			return err
		}
		out, err = names(db,
			"SELECT u.user_name FROM users u"+
				" JOIN user_groups ug ON ug.user_id = u.user_id"+
				" WHERE ug.group_id = ? ORDER BY u.user_name", gid)
		return err
	})
	return out, err
}

// CreateEvent implements the Store interface. The owner is resolved
// from the user name, any OwnerID in ev is ignored.
func (s *MySQL) CreateEvent(user string, ev Event) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		var group any
		if ev.IsGroup {
			group = ev.GroupID
		}
		_, err = db.Exec(
			"INSERT INTO events (owner_id, title, location, start_ts, end_ts, repeat_rule, notes, color, is_group, group_id)"+
				" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			uid, ev.Title, ev.Location, ev.Start, ev.End, ev.Repeat, ev.Notes, ev.Color, ev.IsGroup, group)
		return err
	})
}

// EventsBetween implements the Store interface. An event is included
// when it overlaps the window.
func (s *MySQL) EventsBetween(user string, window schedule.Span) ([]Event, error) {
	var out []Event
	err := s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		rows, err := db.Query(
			"SELECT "+eventColumns+" FROM events e"+
				" WHERE e.owner_id = ? AND e.start_ts < ? AND e.end_ts > ?"+
				" ORDER BY e.start_ts, e.event_id",
			uid, window.End, window.Start)
		if err != nil {
			return err
		}
		out, err = scanEvents(rows)
		return err
	})
	return out, err
}

// GroupEventsBetween implements the Store interface. It returns the
// events of everyone who is a member at query time.
func (s *MySQL) GroupEventsBetween(group string, window schedule.Span) ([]Event, error) {
	var out []Event
	err := s.exec(func(db *sql.DB) error {
		gid, err := groupID(db, group)
		if err != nil {
			return err
		}
		rows, err := db.Query(
			"SELECT "+eventColumns+" FROM events e"+
				" JOIN user_groups ug ON ug.user_id = e.owner_id"+
				" WHERE ug.group_id = ? AND e.start_ts < ? AND e.end_ts > ?"+
				" ORDER BY e.start_ts, e.event_id",
			gid, window.End, window.Start)
		if err != nil {
			return err
		}
		out, err = scanEvents(rows)
		return err
	})
	return out, err
}

// FriendRequest implements the Store interface.
func (s *MySQL) FriendRequest(from, to string) error {
	return s.exec(func(db *sql.DB) error {
		fromID, err := s.userID(db, from)
		if err != nil {
			return err
		}
		toID, err := s.userID(db, to)
		if err != nil {
			return err
		}
		var n int
		err = db.QueryRow(
			"SELECT COUNT(*) FROM friendships"+
				" WHERE (user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)",
			fromID, toID, toID, fromID).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicate
		}
		_, err = db.Exec("INSERT INTO friendships (user_a, user_b, accepted) VALUES (?, ?, 0)", fromID, toID)
		return err
	})
}

// AcceptFriend implements the Store interface. Only the request target
// can accept.
func (s *MySQL) AcceptFriend(user, friend string) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		fid, err := s.userID(db, friend)
		if err != nil {
			return err
		}
		res, err := db.Exec(
			"UPDATE friendships SET accepted = 1 WHERE user_a = ? AND user_b = ? AND accepted = 0",
			fid, uid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteFriend implements the Store interface. It removes a friendship
// or a pending request in either direction.
func (s *MySQL) DeleteFriend(user, friend string) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		fid, err := s.userID(db, friend)
		if err != nil {
			return err
		}
		res, err := db.Exec(
			"DELETE FROM friendships WHERE (user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)",
			uid, fid, fid, uid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Friends implements the Store interface.
func (s *MySQL) Friends(user string) ([]string, error) {
	var out []string
	err := s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		out, err = names(db,
			"SELECT u.user_name FROM users u JOIN friendships f"+
				" ON (f.user_a = u.user_id AND f.user_b = ?) OR (f.user_b = u.user_id AND f.user_a = ?)"+
				" WHERE f.accepted = 1 ORDER BY u.user_name", uid, uid)
		return err
	})
	return out, err
}

// FriendRequests implements the Store interface. It lists senders of
// pending requests addressed to the user.
func (s *MySQL) FriendRequests(user string) ([]string, error) {
	var out []string
	err := s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		out, err = names(db,
			"SELECT u.user_name FROM users u JOIN friendships f ON f.user_a = u.user_id"+
				" WHERE f.user_b = ? AND f.accepted = 0 ORDER BY u.user_name", uid)
		return err
	})
	return out, err
}

// SetPresence implements the Store interface.
func (s *MySQL) SetPresence(user string, present bool) error {
	return s.exec(func(db *sql.DB) error {
		uid, err := s.userID(db, user)
		if err != nil {
			return err
		}
		_, err = db.Exec(
			"INSERT INTO presence (user_id, present_flag) VALUES (?, ?)"+
				" ON DUPLICATE KEY UPDATE present_flag = VALUES(present_flag)",
			uid, present)
		return err
	})
}
