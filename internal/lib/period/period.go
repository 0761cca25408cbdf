// Package period содержит функции расчёта окна бесплатной квоты.
// Квота отсчитывается по календарным месяцам в UTC: границей периода
// служит первое число месяца, независимо от часового пояса клиента.
package period

import "time"

// Start возвращает начало периода квоты, в который попадает момент t.
func Start(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Next возвращает начало следующего периода после момента t.
func Next(t time.Time) time.Time {
	return Start(t).AddDate(0, 1, 0)
}

// SamePeriod проверяет, что оба момента лежат в одном окне квоты.
func SamePeriod(a, b time.Time) bool {
	return Start(a).Equal(Start(b))
}
