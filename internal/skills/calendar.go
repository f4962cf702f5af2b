package skills

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// CalendarTool keeps a small in-memory event list. The event store is
// injected state per the tool contract; each Execute call is otherwise
// stateless.
type CalendarTool struct {
	mu     sync.Mutex
	events map[string]string // date (2006-01-02) -> description
	now    func() time.Time
}

// NewCalendarTool creates a calendar tool.
func NewCalendarTool() *CalendarTool {
	return &CalendarTool{
		events: make(map[string]string),
		now:    time.Now,
	}
}

func (t *CalendarTool) Name() string { return "CalendarSkill" }

func (t *CalendarTool) Execute(command string, args []string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch command {
	case "current_date":
		return Succeed(map[string]any{"date": t.now().Format("2006-01-02")})

	case "add_event":
		if len(args) < 2 {
			return FailInvalidArguments("add_event expects <date> <description>")
		}
		date := args[0]
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return FailInvalidArguments("date must be YYYY-MM-DD: " + date)
		}
		desc := ""
		for i, a := range args[1:] {
			if i > 0 {
				desc += " "
			}
			desc += a
		}
		t.events[date] = desc
		return Succeed(map[string]any{"date": date, "event": desc})

	case "list_events":
		dates := make([]string, 0, len(t.events))
		for d := range t.events {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		listed := make([]any, 0, len(dates))
		for _, d := range dates {
			listed = append(listed, map[string]any{"date": d, "event": t.events[d]})
		}
		return Succeed(map[string]any{"events": listed, "count": len(listed)})

	case "remove_event":
		if len(args) != 1 {
			return FailInvalidArguments(fmt.Sprintf("remove_event expects 1 argument, got %d", len(args)))
		}
		if _, ok := t.events[args[0]]; !ok {
			return FailExecution("no event on " + args[0])
		}
		delete(t.events, args[0])
		return Succeed(map[string]any{"removed": args[0]})

	default:
		return FailUnknownCommand(command)
	}
}

func (t *CalendarTool) Capabilities() Manifest {
	return Manifest{
		Name:        t.Name(),
		Description: "Tracks dated events in memory.",
		Commands: map[string]CommandSpec{
			"current_date": {Description: "Return today's date.", ArgsUsage: "", Example: "current_date"},
			"add_event":    {Description: "Add an event on a date.", ArgsUsage: "<date> <description>", Example: "add_event 2026-09-01 standup"},
			"list_events":  {Description: "List all events sorted by date.", ArgsUsage: "", Example: "list_events"},
			"remove_event": {Description: "Remove the event on a date.", ArgsUsage: "<date>", Example: "remove_event 2026-09-01"},
		},
	}
}
