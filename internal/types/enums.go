package types

// EventKind identifies the kind of recurring event a user has registered.
type EventKind string

const (
	EventKindBirthday    EventKind = "birthday"
	EventKindAnniversary EventKind = "anniversary"
)

// ValidEventKind reports whether k is a recognized EventKind value.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventKindBirthday, EventKindAnniversary:
		return true
	}
	return false
}

// NotificationStatus represents the lifecycle state of a scheduled
// notification. A notification is created as pending and reaches exactly
// one terminal state.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// JobType identifies which registered processor handles a queued job.
type JobType string

const (
	JobBirthdayNotification    JobType = "birthday_notification"
	JobAnniversaryNotification JobType = "anniversary_notification"
)

// ValidJobType reports whether t is a recognized JobType value. The worker
// uses this to distinguish a malformed message (permanent failure) from a
// valid type that merely lacks a registered handler.
func ValidJobType(t JobType) bool {
	switch t {
	case JobBirthdayNotification, JobAnniversaryNotification:
		return true
	}
	return false
}

// LeapYearPolicy controls how a Feb-29 event date resolves in a non-leap
// target year.
type LeapYearPolicy string

const (
	// LeapPolicyUseFeb28 substitutes Feb-28 in non-leap years. Default.
	LeapPolicyUseFeb28 LeapYearPolicy = "use_feb_28"

	// LeapPolicySkipYear produces no occurrence in non-leap years; the
	// event next fires on Feb-29 of the following leap year.
	LeapPolicySkipYear LeapYearPolicy = "skip_year"
)

// UserStatus represents the account lifecycle state of an event owner.
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// ChannelType identifies a delivery channel for an outbound notification.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
)
