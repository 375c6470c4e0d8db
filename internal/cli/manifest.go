package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/scheduler"
)

// Manifest — описание deployment в YAML.
//
//	name: nightly
//	flow: etl
//	schedule:
//	  cron: "0 3 * * *"
//	  timezone: Europe/Moscow
//	parameters:
//	  source: s3://bucket/data
//	tags: [etl]
type Manifest struct {
	Name       string            `yaml:"name"`
	Flow       string            `yaml:"flow"`
	Schedule   *ScheduleManifest `yaml:"schedule"`
	Paused     bool              `yaml:"paused"`
	Parameters map[string]any    `yaml:"parameters"`
	Tags       []string          `yaml:"tags"`
}

// ScheduleManifest — расписание в манифесте: interval или cron.
type ScheduleManifest struct {
	Interval   time.Duration `yaml:"interval"`
	AnchorDate *time.Time    `yaml:"anchor_date"`
	Cron       string        `yaml:"cron"`
	Timezone   string        `yaml:"timezone"`
}

// ParseManifests читает один или несколько YAML-документов.
func ParseManifests(r io.Reader) ([]Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Manifest
	for {
		var m Manifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: manifest is empty", ErrInvalidArgument)
	}
	return out, nil
}

// Deployment проверяет манифест и строит deployment без FlowID.
func (m Manifest) Deployment() (*domain.Deployment, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("%w: deployment name is required", ErrInvalidArgument)
	}
	if m.Flow == "" {
		return nil, fmt.Errorf("%w: deployment %q: flow is required", ErrInvalidArgument, m.Name)
	}

	d := &domain.Deployment{
		Name:       m.Name,
		FlowName:   m.Flow,
		Parameters: m.Parameters,
		Tags:       m.Tags,
	}

	if m.Schedule != nil {
		sched, err := m.Schedule.schedule()
		if err != nil {
			return nil, fmt.Errorf("deployment %q: %w", m.Name, err)
		}
		d.Schedule = sched
		d.IsScheduleActive = !m.Paused
	}
	return d, nil
}

func (s *ScheduleManifest) schedule() (*domain.Schedule, error) {
	var sched *domain.Schedule
	switch {
	case s.Interval > 0 && s.Cron != "":
		return nil, fmt.Errorf("%w: schedule has both interval and cron", domain.ErrInvalidSchedule)
	case s.Cron != "":
		sched = domain.CronSchedule(s.Cron, s.Timezone)
	default:
		sched = domain.IntervalSchedule(s.Interval, s.AnchorDate)
		sched.Timezone = s.Timezone
	}
	if err := scheduler.ValidateSchedule(sched); err != nil {
		return nil, err
	}
	return sched, nil
}
