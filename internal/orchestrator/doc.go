// Package orchestrator содержит Agent — сервис, который выполняет
// flow runs, созданные scheduler.
//
// Agent периодически (через scheduler.LoopService):
//   - Находит SCHEDULED flow runs, время запуска которых наступает в пределах prefetch
//   - Переводит каждый в PENDING
//   - Передаёт его Engine.RunExisting в отдельной горутине
//   - При ошибке отправки записывает FAILED "Submission failed."
//
// Отправки ограничены по частоте (rate.Limiter) и по числу одновременно
// выполняемых flow runs.
package orchestrator
