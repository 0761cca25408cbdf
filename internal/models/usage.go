package models

import "time"

// UsageCounter счётчик бесплатной квоты субъекта за период.
// Счётчик хранится как число различных слагов, открытых бесплатно:
// повторный доступ к уже засчитанному материалу квоту не расходует.
type UsageCounter struct {
	IdentityKey string    // UID пользователя или ID анонимной сессии
	PeriodStart time.Time // Начало периода квоты
	Used        int       // Сколько различных материалов уже засчитано
	Limit       int       // Лимит бесплатных материалов за период
}

// Remaining возвращает остаток квоты, не опускаясь ниже нуля.
func (u UsageCounter) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}
