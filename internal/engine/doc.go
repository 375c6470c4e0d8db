// Package engine содержит движок выполнения flows и задач.
//
// Включает:
//   - task.go, flow.go — объявление задач и flows, их вызов
//   - engine.go        — Engine: запуск flow runs, регистрация
//   - orchestrate.go   — предложение состояний, попытки, timeout
//   - taskrun.go       — жизненный цикл task run (зависимости, кэш)
//   - flowrun.go       — жизненный цикл flow run, subflows, агрегация
//   - params.go        — проверка и приведение параметров flow
//   - template.go      — рендеринг Go templates ({{ .inputs.x }})
//
// Тело flow или задачи — обычная функция Go. Внутри тела flow задачи
// вызываются через Task.Submit и Task.Call; ctx тела несёт текущий flow run.
package engine
