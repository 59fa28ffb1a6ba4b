// Package channel доставляет сообщения message шагов в каналы.
//
// Каждый провайдер реализует Handler и регистрируется в Registry по ProviderID.
// Набор провайдеров закрыт:
//   - msteams, slack, discord — chat webhooks (HTTP POST)
//   - in_app — публикация в RabbitMQ, доставку подписчику выполняет websocket сервис
package channel
