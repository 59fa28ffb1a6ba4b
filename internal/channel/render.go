package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// ErrRender — текст сообщения не удалось отрендерить.
var ErrRender = errors.New("content render failed")

// RenderData — данные, доступные в тексте сообщения:
//
//	{{ .Payload.name }}
//	{{ .SubscriberID }}
//	{{ len .Events }} новых событий
//	{{ range .Events }}{{ .title }}{{ end }}
type RenderData struct {
	Payload      map[string]any
	SubscriberID string
	Events       []map[string]any
}

var renderFuncs = template.FuncMap{
	// json — значение как JSON строка
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
}

// Render подставляет данные сообщения в текст.
// Текст без {{ возвращается как есть.
func Render(text string, msg *Message) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	t, err := template.New("content").Funcs(renderFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, RenderData{
		Payload:      msg.Payload,
		SubscriberID: msg.SubscriberID,
		Events:       msg.Events,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	return buf.String(), nil
}
