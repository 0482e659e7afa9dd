// Package command routes parsed protocol lines to store operations.
package command

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/timefuse/timefuse-go/pkg/database"
	"github.com/timefuse/timefuse-go/pkg/schedule"
	"github.com/timefuse/timefuse-go/pkg/wire"
	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

// Reason tokens carried by FAIL responses.
const (
	ReasonUnknownVerb    = "UNKNOWN_VERB"
	ReasonNoSuchUser     = "NO_SUCH_USER"
	ReasonNoSuchGroup    = "NO_SUCH_GROUP"
	ReasonDuplicate      = "DUPLICATE"
	ReasonBadCredentials = "BAD_CREDENTIALS"
	ReasonNotFound       = "NOT_FOUND"
	ReasonBadTimestamp   = "BAD_TIMESTAMP"
	ReasonBadDuration    = "BAD_DURATION"
	ReasonDBError        = "DB_ERROR"
)

// Dispatcher maps the closed verb set onto a Store. Every request gets
// exactly one finished response line; no verb closes the connection,
// session lifetime belongs to the caller.
type Dispatcher struct {
	store database.Store
	log   *zap.Logger
	limit int
}

// NewDispatcher returns a dispatcher backed by the given store.
func NewDispatcher(store database.Store, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store: store,
		log:   log,
		limit: schedule.DefaultLimit,
	}
}

type handler struct {
	arity int
	run   func(*Dispatcher, []string) string
}

var handlers = map[command.Type]handler{
	command.Login:               {2, (*Dispatcher).login},
	command.CreateAccount:       {3, (*Dispatcher).createAccount},
	command.UpdateUser:          {6, (*Dispatcher).updateUser},
	command.ResetPassword:       {3, (*Dispatcher).resetPassword},
	command.AccountInfo:         {1, (*Dispatcher).accountInfo},
	command.CreateGroup:         {1, (*Dispatcher).createGroup},
	command.DeleteGroup:         {1, (*Dispatcher).deleteGroup},
	command.JoinGroup:           {2, (*Dispatcher).joinGroup},
	command.LeaveGroup:          {2, (*Dispatcher).leaveGroup},
	command.ListGroups:          {1, (*Dispatcher).listGroups},
	command.ListGroupUsers:      {1, (*Dispatcher).listGroupUsers},
	command.CreatePersonalEvent: {8, (*Dispatcher).createPersonalEvent},
	command.ListUserEvents:      {3, (*Dispatcher).listUserEvents},
	command.ListMonthEvents:     {3, (*Dispatcher).listMonthEvents},
	command.SuggestUserTimes:    {4, (*Dispatcher).suggestUserTimes},
	command.SuggestGroupTimes:   {4, (*Dispatcher).suggestGroupTimes},
	command.FriendRequest:       {2, (*Dispatcher).friendRequest},
	command.AcceptFriend:        {2, (*Dispatcher).acceptFriend},
	command.DeleteFriend:        {2, (*Dispatcher).deleteFriend},
	command.Friends:             {1, (*Dispatcher).friends},
	command.FriendRequests:      {1, (*Dispatcher).friendRequests},
	command.Absent:              {1, (*Dispatcher).absent},
	command.Present:             {1, (*Dispatcher).present},
}

// DispatchLine decodes one raw request line and runs it. A line that
// does not decode fails like an unknown verb.
func (d *Dispatcher) DispatchLine(line string) string {
	m, err := wire.DecodeMessage(line)
	if err != nil {
		d.log.Debug("malformed request", zap.Error(err))
		return failLine(ReasonUnknownVerb)
	}
	return d.Dispatch(m)
}

// Dispatch runs one request through the verb table and returns the
// response line. Unknown verbs and arity mismatches fail softly.
func (d *Dispatcher) Dispatch(m wire.Message) string {
	h, ok := handlers[m.Command]
	if !ok || h.arity != len(m.Args) {
		d.log.Debug("unknown request",
			zap.String("verb", string(m.Command)),
			zap.Int("args", len(m.Args)))
		return failLine(ReasonUnknownVerb)
	}
	return h.run(d, m.Args)
}

// okLine renders OK with an optional CSV payload. Cells are escaped
// individually so that commas and spaces inside them survive.
func okLine(cells ...string) string {
	if len(cells) == 0 {
		return string(command.OK)
	}
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = url.QueryEscape(c)
	}
	return string(command.OK) + " " + strings.Join(escaped, ",")
}

func failLine(reason string) string {
	return string(command.Fail) + " " + reason
}

// status collapses a write-style store result into its response line.
func (d *Dispatcher) status(op string, err error) string {
	if err != nil {
		return d.fail(op, err)
	}
	return okLine()
}

func (d *Dispatcher) fail(op string, err error) string {
	reason := reasonFor(err)
	if reason == ReasonDBError {
		d.log.Warn("store operation failed", zap.String("op", op), zap.Error(err))
	}
	return failLine(reason)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, database.ErrNoSuchUser):
		return ReasonNoSuchUser
	case errors.Is(err, database.ErrNoSuchGroup):
		return ReasonNoSuchGroup
	case errors.Is(err, database.ErrDuplicate):
		return ReasonDuplicate
	case errors.Is(err, database.ErrBadCredentials):
		return ReasonBadCredentials
	case errors.Is(err, database.ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonDBError
	}
}

func (d *Dispatcher) login(args []string) string {
	return d.status("login", d.store.Authenticate(args[0], args[1]))
}

func (d *Dispatcher) createAccount(args []string) string {
	return d.status("create account", d.store.CreateAccount(args[0], args[1], args[2]))
}

func (d *Dispatcher) updateUser(args []string) string {
	return d.status("update user",
		d.store.UpdateUser(args[0], args[1], args[2], args[3], args[4], args[5]))
}

func (d *Dispatcher) resetPassword(args []string) string {
	return d.status("reset password", d.store.ResetPassword(args[0], args[1], args[2]))
}

func (d *Dispatcher) accountInfo(args []string) string {
	u, err := d.store.AccountInfo(args[0])
	if err != nil {
		return d.fail("account info", err)
	}
	return okLine(u.Name, u.Email, u.Cell)
}

func (d *Dispatcher) createGroup(args []string) string {
	return d.status("create group", d.store.CreateGroup(args[0]))
}

func (d *Dispatcher) deleteGroup(args []string) string {
	return d.status("delete group", d.store.DeleteGroup(args[0]))
}

func (d *Dispatcher) joinGroup(args []string) string {
	return d.status("join group", d.store.JoinGroup(args[0], args[1]))
}

func (d *Dispatcher) leaveGroup(args []string) string {
	return d.status("leave group", d.store.LeaveGroup(args[0], args[1]))
}

func (d *Dispatcher) listGroups(args []string) string {
	groups, err := d.store.ListGroups(args[0])
	if err != nil {
		return d.fail("list groups", err)
	}
	return okLine(groups...)
}

func (d *Dispatcher) listGroupUsers(args []string) string {
	users, err := d.store.ListGroupUsers(args[0])
	if err != nil {
		return d.fail("list group users", err)
	}
	return okLine(users...)
}

func (d *Dispatcher) createPersonalEvent(args []string) string {
	start, err := schedule.ParseStamp(args[3])
	if err != nil {
		return failLine(ReasonBadTimestamp)
	}
	end, err := schedule.ParseStamp(args[4])
	if err != nil {
		return failLine(ReasonBadTimestamp)
	}
	ev := database.Event{
		Title:    args[1],
		Location: args[2],
		Start:    start,
		End:      end,
		Repeat:   args[5],
		Notes:    args[6],
		Color:    args[7],
	}
	return d.status("create event", d.store.CreateEvent(args[0], ev))
}

func (d *Dispatcher) listUserEvents(args []string) string {
	window, err := parseWindow(args[1], args[2])
	if err != nil {
		return failLine(ReasonBadTimestamp)
	}
	events, err := d.store.EventsBetween(args[0], window)
	if err != nil {
		return d.fail("list user events", err)
	}
	return okLine(eventCells(events)...)
}

func (d *Dispatcher) listMonthEvents(args []string) string {
	month, err := strconv.Atoi(args[1])
	if err != nil || month < 1 || month > 12 {
		return failLine(ReasonBadTimestamp)
	}
	year, err := strconv.Atoi(args[2])
	if err != nil {
		return failLine(ReasonBadTimestamp)
	}
	events, err := d.store.EventsBetween(args[0], schedule.MonthWindow(year, time.Month(month)))
	if err != nil {
		return d.fail("list month events", err)
	}
	return okLine(eventCells(events)...)
}

func (d *Dispatcher) suggestUserTimes(args []string) string {
	return d.suggest(args, d.store.EventsBetween)
}

func (d *Dispatcher) suggestGroupTimes(args []string) string {
	return d.suggest(args, d.store.GroupEventsBetween)
}

// suggest emits the free slots of at least the requested length inside
// the window, one "start end" cell per slot, chronological, capped.
func (d *Dispatcher) suggest(args []string, fetch func(string, schedule.Span) ([]database.Event, error)) string {
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return failLine(ReasonBadDuration)
	}
	window, err := parseWindow(args[2], args[3])
	if err != nil {
		return failLine(ReasonBadTimestamp)
	}
	events, err := fetch(args[0], window)
	if err != nil {
		return d.fail("suggest times", err)
	}
	busy := make([]schedule.Span, len(events))
	for i, ev := range events {
		busy[i] = ev.Span()
	}
	slots := schedule.FreeSlots(window, busy, time.Duration(minutes)*time.Minute, d.limit)
	cells := make([]string, len(slots))
	for i, s := range slots {
		cells[i] = schedule.FormatStamp(s.Start) + " " + schedule.FormatStamp(s.End)
	}
	return okLine(cells...)
}

func (d *Dispatcher) friendRequest(args []string) string {
	return d.status("friend request", d.store.FriendRequest(args[0], args[1]))
}

func (d *Dispatcher) acceptFriend(args []string) string {
	return d.status("accept friend", d.store.AcceptFriend(args[0], args[1]))
}

func (d *Dispatcher) deleteFriend(args []string) string {
	return d.status("delete friend", d.store.DeleteFriend(args[0], args[1]))
}

func (d *Dispatcher) friends(args []string) string {
	names, err := d.store.Friends(args[0])
	if err != nil {
		return d.fail("friends", err)
	}
	return okLine(names...)
}

func (d *Dispatcher) friendRequests(args []string) string {
	names, err := d.store.FriendRequests(args[0])
	if err != nil {
		return d.fail("friend requests", err)
	}
	return okLine(names...)
}

func (d *Dispatcher) absent(args []string) string {
	return d.status("absent", d.store.SetPresence(args[0], false))
}

func (d *Dispatcher) present(args []string) string {
	return d.status("present", d.store.SetPresence(args[0], true))
}

func parseWindow(from, to string) (schedule.Span, error) {
	start, err := schedule.ParseStamp(from)
	if err != nil {
		return schedule.Span{}, err
	}
	end, err := schedule.ParseStamp(to)
	if err != nil {
		return schedule.Span{}, err
	}
	return schedule.Span{Start: start, End: end}, nil
}

// eventCells renders one event per cell: id, title, start and end,
// space-separated inside the cell.
func eventCells(events []database.Event) []string {
	cells := make([]string, len(events))
	for i, ev := range events {
		cells[i] = strings.Join([]string{
			strconv.FormatInt(ev.ID, 10),
			ev.Title,
			schedule.FormatStamp(ev.Start),
			schedule.FormatStamp(ev.End),
		}, " ")
	}
	return cells
}
