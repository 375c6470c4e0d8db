// Package domain содержит модель состояний и записи Record Store.
//
//   - state.go      — StateType, State, конструкторы состояний
//   - transition.go — таблица допустимых переходов
//   - result.go     — распаковка результата, CapturedError
//   - run.go        — Run (flow run и task run), учёт времени выполнения
//   - deployment.go — Deployment и Schedule
//   - flow.go       — Flow, InputDef, Log
package domain
