// Package trial считает оставшиеся дни пробного периода
// и формирует текст об окончании пробного периода.
package trial

import (
	"strconv"
	"strings"
	"time"
)

// DefaultDaysLeft используется, когда дата окончания пробного периода неизвестна.
const DefaultDaysLeft = 30

const day = 24 * time.Hour

// DaysBetween возвращает разницу в календарных днях между датами from и to по UTC.
// Время суток отбрасывается, результат может быть отрицательным.
func DaysBetween(from, to time.Time) int {
	a := utcDate(from)
	b := utcDate(to)
	return int(b.Sub(a) / day)
}

// DaysLeft возвращает число оставшихся дней пробного периода.
func DaysLeft(now time.Time, expiresAt *time.Time) int {
	if expiresAt == nil {
		return DefaultDaysLeft
	}
	return DaysBetween(now, *expiresAt)
}

// ExpirationMessage формирует текст для блока .expiration.
// Число дней выводится только если оно положительное.
func ExpirationMessage(daysLeft int) string {
	message := []string{"Your trial"}
	if daysLeft > 0 {
		message = append(message, "will expire in", strconv.Itoa(daysLeft))
		if daysLeft == 1 {
			message = append(message, "day.")
		} else {
			message = append(message, "days.")
		}
	} else {
		message = append(message, "has expired.")
	}
	return strings.Join(message, " ")
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
