// Package bridge реализует единый контракт вызова для трёх контекстов
// выполнения.
//
// Оркестрация runs выполняется на Loop — кооперативном однопоточном цикле,
// привязанном к одной горутине. Блокирующие тела задач выполняются в
// ограниченном пуле горутин (Pool) и могут обращаться обратно к своему Loop.
//
// Контекст вызова определяется по context.Context:
//
//	ContextLoop   — вызов на горутине активного Loop: вычисление выполняется
//	                сразу, без перехода между горутинами;
//	ContextWorker — вызов из горутины пула, знающей свой Loop: вычисление
//	                передаётся в Loop, вызывающий блокируется до результата;
//	ContextNone   — ни то ни другое: создаётся новый Loop на текущей
//	                горутине, вычисление выполняется до конца, Loop закрывается.
//
// Горутина Loop никогда не блокируется напрямую: любое ожидание (Future,
// таймаут, тело в пуле) идёт через Loop.Await, который во время ожидания
// выполняет вызовы, пришедшие от горутин пула.
package bridge
