package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Weaver/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей или дескриптор "@hourly").
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Dates возвращает до n дат расписания не раньше start.
// Нулевой end не ограничивает даты сверху; иначе даты после end отбрасываются.
//
// Интервальные даты привязаны к опорной дате: anchor + k*interval.
// Cron-даты вычисляются в часовом поясе расписания.
func Dates(sched *domain.Schedule, n int, start, end time.Time) ([]time.Time, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	switch sched.Kind {
	case domain.ScheduleCron:
		return cronDates(sched, n, start, end)
	default:
		return intervalDates(sched, n, start, end), nil
	}
}

func intervalDates(sched *domain.Schedule, n int, start, end time.Time) []time.Time {
	anchor := sched.Anchor()
	loc := sched.Location()

	next := anchor
	if start.After(anchor) {
		steps := start.Sub(anchor) / sched.Interval
		next = anchor.Add(steps * sched.Interval)
		if next.Before(start) {
			next = next.Add(sched.Interval)
		}
	}

	dates := make([]time.Time, 0, n)
	for len(dates) < n {
		if !end.IsZero() && next.After(end) {
			break
		}
		dates = append(dates, next.In(loc))
		next = next.Add(sched.Interval)
	}
	return dates
}

func cronDates(sched *domain.Schedule, n int, start, end time.Time) ([]time.Time, error) {
	spec, err := cronParser.Parse(sched.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: parse cron expression %q: %v", domain.ErrInvalidSchedule, sched.Cron, err)
	}

	// Next возвращает время строго после аргумента; start тоже подходит.
	cursor := start.In(sched.Location()).Add(-time.Nanosecond)

	dates := make([]time.Time, 0, n)
	for len(dates) < n {
		next := spec.Next(cursor)
		if next.IsZero() || (!end.IsZero() && next.After(end)) {
			break
		}
		dates = append(dates, next)
		cursor = next
	}
	return dates, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// ValidateSchedule проверяет расписание целиком, включая синтаксис cron.
func ValidateSchedule(sched *domain.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if sched.Kind == domain.ScheduleCron {
		if err := ValidateCronExpr(sched.Cron); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
		}
	}
	return nil
}
