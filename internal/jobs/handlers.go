package jobs

import (
	"fmt"
	"time"

	"milestone/internal/types"
)

// BirthdayHandler renders birthday notifications and owns their suppression
// rules.
type BirthdayHandler struct{}

var _ types.DeliveryHandler = BirthdayHandler{}

func (BirthdayHandler) Kind() types.EventKind { return types.EventKindBirthday }

// ShouldSend suppresses sends to deleted users.
func (BirthdayHandler) ShouldSend(user *types.User) bool {
	return user != nil && !user.Deleted()
}

// ChannelTarget returns the user's webhook URL; an empty target tells the
// processor to skip rather than fail.
func (BirthdayHandler) ChannelTarget(user *types.User) string {
	return user.WebhookURL
}

// GetMessage renders the outbound text. When the event carries an origin
// year, the age is included.
func (BirthdayHandler) GetMessage(user *types.User, event *types.RecurringEvent, scheduledFor time.Time) string {
	who := event.Label
	if who == "" {
		who = "someone you care about"
	}
	if event.OriginYear > 0 {
		age := scheduledFor.Year() - event.OriginYear
		return fmt.Sprintf("It's %s's birthday today — turning %d!", who, age)
	}
	return fmt.Sprintf("It's %s's birthday today!", who)
}

// AnniversaryHandler renders anniversary notifications, computing the
// ordinal ("5th anniversary") from the event's origin year.
type AnniversaryHandler struct{}

var _ types.DeliveryHandler = AnniversaryHandler{}

func (AnniversaryHandler) Kind() types.EventKind { return types.EventKindAnniversary }

func (AnniversaryHandler) ShouldSend(user *types.User) bool {
	return user != nil && !user.Deleted()
}

func (AnniversaryHandler) ChannelTarget(user *types.User) string {
	return user.WebhookURL
}

func (AnniversaryHandler) GetMessage(user *types.User, event *types.RecurringEvent, scheduledFor time.Time) string {
	what := event.Label
	if what == "" {
		what = "your anniversary"
	}
	if event.OriginYear > 0 {
		n := scheduledFor.Year() - event.OriginYear
		if n > 0 {
			return fmt.Sprintf("Today is the %s of %s.", ordinal(n)+" anniversary", what)
		}
	}
	return fmt.Sprintf("Today is %s.", what)
}

// ordinal formats n with its English ordinal suffix.
func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
		// teens keep "th"
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
