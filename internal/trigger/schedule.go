// Package trigger decides when roles run: a parsed schedule per role driven
// by an explicit Engine, inbox detection, and the trigger-type tag recorded
// in each run log section.
package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned for schedule text that matches no known form.
// Callers treat the role as on-demand.
var ErrUnparseable = errors.New("trigger: unparseable schedule")

// Kind is the form of a parsed schedule.
type Kind int

const (
	// KindOnDemand registers no timer; the role runs only from its inbox.
	KindOnDemand Kind = iota
	// KindInterval fires every Spec.Every.
	KindInterval
	// KindDaily fires once a day at each of Spec.Times.
	KindDaily
)

// TimeOfDay is a wall-clock time in 24-hour form.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Spec is a parsed schedule.
type Spec struct {
	Kind  Kind
	Every time.Duration
	Times []TimeOfDay
}

func (s Spec) String() string {
	switch s.Kind {
	case KindInterval:
		return fmt.Sprintf("every %d minutes", int(s.Every/time.Minute))
	case KindDaily:
		parts := make([]string, len(s.Times))
		for i, t := range s.Times {
			parts[i] = t.String()
		}
		return "daily at " + strings.Join(parts, ", ")
	default:
		return "on-demand"
	}
}

var (
	intervalPattern = regexp.MustCompile(`every\s+(\d+)\s+minute`)
	clockPattern    = regexp.MustCompile(`(\d{1,2})\s*(am|pm)`)
)

// Parse reads a human schedule:
//
//	"on-demand"             -> KindOnDemand
//	"Every 15 minutes"      -> KindInterval{15m}
//	"9am and 5pm"           -> KindDaily{09:00, 17:00}
//
// Text matching none of these returns an on-demand Spec with ErrUnparseable.
func Parse(text string) (Spec, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(normalized, "on-demand") {
		return Spec{Kind: KindOnDemand}, nil
	}
	if m := intervalPattern.FindStringSubmatch(normalized); m != nil {
		minutes, err := strconv.Atoi(m[1])
		if err == nil && minutes > 0 {
			return Spec{Kind: KindInterval, Every: time.Duration(minutes) * time.Minute}, nil
		}
	}
	var times []TimeOfDay
	for _, m := range clockPattern.FindAllStringSubmatch(normalized, -1) {
		hour, err := strconv.Atoi(m[1])
		if err != nil || hour < 1 || hour > 12 {
			continue
		}
		switch {
		case m[2] == "am" && hour == 12:
			hour = 0
		case m[2] == "pm" && hour != 12:
			hour += 12
		}
		times = append(times, TimeOfDay{Hour: hour})
	}
	if len(times) > 0 {
		return Spec{Kind: KindDaily, Times: times}, nil
	}
	return Spec{Kind: KindOnDemand}, fmt.Errorf("%w: %q", ErrUnparseable, text)
}

// Trigger-type tags written into run log section headers.
const (
	TagScheduled = "scheduled"
	TagInbox     = "inbox"
	TagManual    = "manual"
)

// Reasons produced by the scheduler loop and CLI.
const (
	ReasonInbox  = "inbox trigger"
	ReasonManual = "manual"
)

// TagFor maps a free-form trigger reason to its tag.
func TagFor(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "inbox"):
		return TagInbox
	case strings.Contains(lower, "scheduled"):
		return TagScheduled
	default:
		return TagManual
	}
}
