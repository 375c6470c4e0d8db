// Package mq — транспорт распределённого task runner поверх RabbitMQ.
//
// Клиент кластера (taskrunner.AMQPCluster) публикует work items в
// weaver.tasks, воркеры (weaver-worker) читают их из tasks.submitted и
// отвечают в weaver.results с ключом из reply_to. У каждого клиента своя
// auto-delete очередь results.<client id>. Нечитаемые work items
// попадают в dlq.tasks.
//
// Тела сообщений mq не разбирает: это msgpack work items и результатов
// из taskrunner. Id, тип и reply_to передаются свойствами AMQP.
//
// Connection сама восстанавливает канал и соединение; Consumer после
// восстановления подписывается заново.
package mq
