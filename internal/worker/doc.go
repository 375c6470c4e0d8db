// Package worker — процесс weaver-worker распределённого task runner.
//
// Worker читает work items, которые taskrunner.AMQPCluster публикует в
// tasks.submitted, восстанавливает в аргументах futures (ожидая их
// состояния в Record Store), выполняет обработчик Engine и отвечает
// WorkResult в очередь клиента из reply_to. Экземпляры масштабируются
// горизонтально на одной очереди.
//
//	e := engine.New(engine.Config{Store: store})
//	e.RegisterTasks(steps.DefaultRegistry().DefaultTasks()...)
//
//	w := worker.New(worker.Config{
//	    Publisher:   mq.NewPublisher(conn, logger),
//	    Conn:        conn,
//	    Env:         e.Env(),
//	    Concurrency: 4,
//	})
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
// Ошибка тела задачи не ошибка Worker: она уже записана состоянием task
// run и уходит клиенту в WorkResult.
package worker
