package bot

import (
	"fmt"
	"time"
)

// User-facing copy. Business rejections get specific wording;
// infrastructure failures degrade to "try later" with no detail.

const (
	msgConfirmStartPrompt = "Start your shift with this photo?"
	msgConfirmEndPrompt   = "End your shift with this photo?"

	msgOpenShiftExists       = "You already have an open shift. Send an end-of-shift photo to close it first."
	msgNoOpenShift           = "You have no open shift right now."
	msgPendingExpired        = "This confirmation has expired. Send a new photo."
	msgPendingAlreadyHandled = "This confirmation was already handled."
	msgPendingNotFound       = "This confirmation no longer exists. Send a new photo."
	msgNoAccess              = "This confirmation belongs to someone else."
	msgTryLater              = "Something went wrong. Please try again later."
)

func msgShiftStarted(at time.Time) string {
	return fmt.Sprintf("Shift started at %s.", fmtTime(at))
}

func msgShiftClosed(at time.Time, durationMinutes int) string {
	return fmt.Sprintf("Shift closed at %s. Worked %s.", fmtTime(at), fmtDuration(durationMinutes))
}

func msgAutoClosedEmployee(maxShiftHours int) string {
	return fmt.Sprintf("Your shift exceeded %dh and was closed automatically. Send a new photo to start the next one.", maxShiftHours)
}

func msgAdminShiftStarted(displayName string, at time.Time) string {
	return fmt.Sprintf("%s started a shift at %s.", displayName, fmtTime(at))
}

func msgAdminShiftClosed(displayName string, durationMinutes int) string {
	return fmt.Sprintf("%s closed a shift. Worked %s.", displayName, fmtDuration(durationMinutes))
}

func msgAdminAutoClosed(displayName string, endTime time.Time, maxShiftHours int) string {
	return fmt.Sprintf("%s's shift was auto-closed at %s after exceeding %dh.", displayName, fmtTime(endTime), maxShiftHours)
}

func msgStatusOpen(start time.Time) string {
	return fmt.Sprintf("You are on shift since %s.", fmtTime(start))
}

func fmtTime(t time.Time) string {
	return t.UTC().Format("15:04")
}

func fmtDuration(minutes int) string {
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}
