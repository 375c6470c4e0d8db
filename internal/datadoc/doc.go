// Package datadoc реализует Data Reference Store — хранилище результатов runs.
//
// Результат выполнения задачи сериализуется в Document: короткую ссылку,
// которую можно хранить вместе со State в Record Store. Содержимое
// ссылки либо лежит прямо в документе (inline-форматы json и msgpack),
// либо во внешнем хранилище (Redis), а документ содержит только ключ.
//
// Engine не знает, как устроена ссылка: он вызывает Store.Encode при
// записи терминального State и Store.Decode при чтении.
package datadoc
