// Package cli реализует инструмент командной строки weaver.
//
// # Обзор
//
// CLI читает и изменяет Record Store напрямую (по database.url из
// конфигурации): просмотр flow runs, их состояний и логов, управление
// deployments.
//
// # Ключевые компоненты
//
// ## Client
//
// Операции CLI над repo.Store. Добавляет к runs и deployments имена
// flows, разбирает идентификаторы и фильтры.
//
//	client := cli.NewClient(store)
//	runs, err := client.ListFlowRuns(ctx, cli.ListRunsOpts{Flow: "etl"})
//
// ## Manifest
//
// YAML-описание deployment для weaver deployment apply -f. Файл может
// содержать несколько документов; расписание проверяется так же, как
// в scheduler.
//
// ## Output
//
// Флаг -o/--output выбирает формат: table (text/tabwriter, по
// умолчанию), json или yaml; --json — сокращение для -o json. Данные
// пишутся в stdout, сообщения — в stderr.
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow-run: ls, inspect, states
//   - deployment: ls, apply, pause, resume
//   - logs
//
// Каждая группа создаётся через фабричную функцию (NewFlowRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
