package database

import (
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/timefuse/timefuse-go/pkg/schedule"
)

// Store is the account, group, event and friendship surface consumed
// by the request dispatcher. Implementations map their failures to the
// sentinel errors below where one applies.
type Store interface {
	Authenticate(user, pass string) error
	CreateAccount(user, pass, email string) error
	UpdateUser(oldUser, oldPass, newPass, newUser, newMail, newCell string) error
	ResetPassword(user, email, newPass string) error
	AccountInfo(user string) (User, error)

	CreateGroup(group string) error
	DeleteGroup(group string) error
	JoinGroup(user, group string) error
	LeaveGroup(user, group string) error
	ListGroups(user string) ([]string, error)
	ListGroupUsers(group string) ([]string, error)

	CreateEvent(user string, ev Event) error
	EventsBetween(user string, window schedule.Span) ([]Event, error)
	GroupEventsBetween(group string, window schedule.Span) ([]Event, error)

	FriendRequest(from, to string) error
	AcceptFriend(user, friend string) error
	DeleteFriend(user, friend string) error
	Friends(user string) ([]string, error)
	FriendRequests(user string) ([]string, error)

	SetPresence(user string, present bool) error

	Close() error
}

// Sentinel errors shared by every Store implementation.
var (
	ErrNoSuchUser     = errors.New("no such user")
	ErrNoSuchGroup    = errors.New("no such group")
	ErrDuplicate      = errors.New("duplicate entry")
	ErrBadCredentials = errors.New("bad credentials")
	ErrNotFound       = errors.New("not found")
	ErrClosed         = errors.New("store is closed")
)

// User is one account row. The password hash never leaves the store.
type User struct {
	ID         int64
	ScheduleID int64
	Name       string
	Email      string
	Cell       string
}

// Event is one calendar entry. GroupID is meaningful only when IsGroup
// is set.
type Event struct {
	ID       int64
	OwnerID  int64
	Title    string
	Location string
	Start    time.Time
	End      time.Time
	Repeat   string
	Notes    string
	Color    string
	IsGroup  bool
	GroupID  int64
}

// Span returns the busy interval the event occupies.
func (e Event) Span() schedule.Span {
	return schedule.Span{Start: e.Start, End: e.End}
}

// Environment variables carrying the connection settings.
const (
	EnvHost     = "DBHOST"
	EnvName     = "DBNAME"
	EnvUser     = "DBUSR"
	EnvPassword = "DBPASS"
)

// Config holds the MySQL connection settings.
type Config struct {
	Host     string
	Name     string
	User     string
	Password string
}

// ConfigFromEnv reads the connection settings from the environment.
// Every variable must be present.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:     os.Getenv(EnvHost),
		Name:     os.Getenv(EnvName),
		User:     os.Getenv(EnvUser),
		Password: os.Getenv(EnvPassword),
	}
	for name, value := range map[string]string{
		EnvHost:     cfg.Host,
		EnvName:     cfg.Name,
		EnvUser:     cfg.User,
		EnvPassword: cfg.Password,
	} {
		if value == "" {
			return Config{}, errors.Errorf("environment variable %s is not set", name)
		}
	}
	return cfg, nil
}
