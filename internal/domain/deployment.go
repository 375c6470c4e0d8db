package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Deployment — именованная привязка flow к параметрам и расписанию.
//
// Scheduler для каждого deployment с IsScheduleActive=true заранее
// создаёт SCHEDULED flow runs.
type Deployment struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	FlowID   uuid.UUID `json:"flow_id"`
	FlowName string    `json:"flow_name,omitempty"`

	Schedule         *Schedule `json:"schedule,omitempty"`
	IsScheduleActive bool      `json:"is_schedule_active"`

	Parameters map[string]any `json:"parameters,omitempty"`
	Tags       []string       `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleKind — вариант расписания.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// DefaultAnchor — опорная дата интервальных расписаний по умолчанию.
var DefaultAnchor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Schedule — расписание: интервал или cron-выражение.
//
// Interval-расписание привязано к AnchorDate: даты имеют вид
// anchor + k*interval, поэтому повторные циклы дают те же даты.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// Interval — шаг интервального расписания.
	Interval   time.Duration `json:"interval,omitempty"`
	AnchorDate *time.Time    `json:"anchor_date,omitempty"`

	// Cron — выражение "минуты часы дни месяцы дни_недели".
	Cron string `json:"cron,omitempty"`

	// Timezone — часовой пояс; по умолчанию UTC.
	Timezone string `json:"timezone,omitempty"`
}

// IntervalSchedule создаёт интервальное расписание.
func IntervalSchedule(every time.Duration, anchor *time.Time) *Schedule {
	return &Schedule{Kind: ScheduleInterval, Interval: every, AnchorDate: anchor}
}

// CronSchedule создаёт cron-расписание.
func CronSchedule(expr, timezone string) *Schedule {
	return &Schedule{Kind: ScheduleCron, Cron: expr, Timezone: timezone}
}

// Anchor возвращает опорную дату интервального расписания.
func (s *Schedule) Anchor() time.Time {
	if s.AnchorDate != nil {
		return *s.AnchorDate
	}
	return DefaultAnchor
}

// Location возвращает часовой пояс расписания (UTC, если не задан или неизвестен).
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate проверяет структуру расписания.
// Синтаксис cron проверяет scheduler.ValidateCronExpr.
func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleInterval:
		if s.Interval <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
		}
	case ScheduleCron:
		if s.Cron == "" {
			return fmt.Errorf("%w: cron expression is empty", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
		}
	}
	return nil
}
