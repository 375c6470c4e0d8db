// Package telemetry — логирование, метрики и трассировка Weaver.
//
// Логгер процесса настраивается SetupLogger и передаётся по контексту
// (WithLogger/FromContext). Внутри flow и task runs Engine кладёт в
// контекст логгер с RunHandler: записи получают run_id и, помимо
// stdout, уходят в BatchSink, который пакетами пишет их в Record Store
// (weaver logs RUN_ID читает их оттуда).
//
// Метрики Prometheus регистрируются через promauto и отдаются на
// /metrics каждого сервиса. Spans flow и task runs создаются через
// OpenTelemetry; без настроенного провайдера они ничего не стоят.
package telemetry
