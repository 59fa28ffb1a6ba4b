// Package cli реализует инструмент командной строки Herald.
//
// CLI работает с Herald API по HTTP. Из серверных пакетов используются
// только auth (команда token) и mq (команда watch).
//
//	client := cli.NewClient(cli.ClientConfig{BaseURL: "http://localhost:8080", Token: token})
//	res, err := client.Trigger(ctx, cli.TriggerRequest{Name: "welcome", To: []string{"sub-1"}})
//
// Вывод: таблица (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr: herald job list --transaction TX --json | jq .
//
// Команды:
//   - event: trigger, cancel
//   - job: show, list
//   - token: выпуск JWT для локальной разработки
//   - watch: поток событий выполнения jobs из RabbitMQ
package cli
