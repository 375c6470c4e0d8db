// Package scheduler создаёт flow runs по расписаниям deployments.
//
// Scheduler.RunOnce постранично читает deployments с активным расписанием,
// вычисляет будущие даты (не больше MaxRuns и не дальше MaxScheduledTime)
// и пачками вставляет SCHEDULED flow runs. Повторная вставка той же даты
// отбрасывается Record Store по ключу идемпотентности.
//
// Структура:
//   - scheduler.go — Scheduler (RunOnce, вставка пачками)
//   - cron.go      — генерация дат: интервал с опорной датой и cron
//   - loop.go      — LoopService, периодический запуск сервисов
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{Store: store, Logger: logger})
//	loop := scheduler.NewLoopService(sched, scheduler.LoopConfig{Interval: time.Minute})
//	if err := loop.Run(ctx); err != nil {
//	    logger.Error("scheduler stopped", "error", err)
//	}
//
// Несколько scheduler могут работать одновременно: дубликаты исключены
// ключом идемпотентности, поэтому leader election не нужен.
package scheduler
