// Package taskrunner выполняет тела задач и возвращает Future.
//
// TaskRunner — фиксированный контракт из четырёх операций (Start, Submit,
// Wait, Settings). Реализации:
//   - Sequential  — выполняет вызов сразу, на вызывающей горутине;
//   - Distributed — сериализует вызов (msgpack) и отправляет его в кластер:
//     локальный (LocalCluster, горутины в этом процессе) или удалённый
//     (AMQPCluster, воркеры weaver-worker через RabbitMQ).
//
// Future можно передать в аргументах другой задачи: при сериализации он
// превращается в ссылку {"$future": {"run_id", "runner"}} и на воркере
// восстанавливается из настроек runner, а не из живых объектов.
package taskrunner
