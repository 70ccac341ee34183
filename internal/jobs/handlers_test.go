package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"milestone/internal/types"
)

func TestBirthdayHandler_Message(t *testing.T) {
	h := BirthdayHandler{}
	user := &types.User{ID: "user_1", WebhookURL: "https://hooks.example/u1"}
	when := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)

	event := &types.RecurringEvent{Label: "Mom", OriginYear: 1960}
	assert.Equal(t, "It's Mom's birthday today — turning 66!", h.GetMessage(user, event, when))

	noYear := &types.RecurringEvent{Label: "Mom"}
	assert.Equal(t, "It's Mom's birthday today!", h.GetMessage(user, noYear, when))

	unlabeled := &types.RecurringEvent{}
	assert.Contains(t, h.GetMessage(user, unlabeled, when), "someone you care about")
}

func TestBirthdayHandler_SuppressesDeletedUsers(t *testing.T) {
	h := BirthdayHandler{}
	assert.True(t, h.ShouldSend(&types.User{Status: types.UserStatusActive}))
	assert.False(t, h.ShouldSend(&types.User{Status: types.UserStatusDeleted}))
	assert.False(t, h.ShouldSend(nil))
}

func TestAnniversaryHandler_OrdinalFromOriginYear(t *testing.T) {
	h := AnniversaryHandler{}
	user := &types.User{ID: "user_1"}
	when := time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC)

	event := &types.RecurringEvent{Label: "our wedding", OriginYear: 2021}
	assert.Equal(t, "Today is the 5th anniversary of our wedding.", h.GetMessage(user, event, when))

	first := &types.RecurringEvent{Label: "our wedding", OriginYear: 2025}
	assert.Equal(t, "Today is the 1st anniversary of our wedding.", h.GetMessage(user, first, when))

	noYear := &types.RecurringEvent{Label: "our wedding"}
	assert.Equal(t, "Today is our wedding.", h.GetMessage(user, noYear, when))
}

func TestOrdinal(t *testing.T) {
	cases := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th",
		11: "11th", 12: "12th", 13: "13th",
		21: "21st", 22: "22nd", 23: "23rd",
		101: "101st", 111: "111th",
	}
	for n, want := range cases {
		assert.Equal(t, want, ordinal(n))
	}
}
