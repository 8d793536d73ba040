// Package i18n resolves message keys to user-visible strings.
//
// Handlers reference keys ("auth.errors.unauthorized"), never literal
// sentences, so every string a client sees comes from one catalog. The
// catalog is embedded at build time; an unknown key resolves to itself,
// which keeps a missing entry visible instead of silently blank.
package i18n

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed messages/en.json
var enRaw []byte

var messages map[string]string

func init() {
	if err := json.Unmarshal(enRaw, &messages); err != nil {
		panic(fmt.Sprintf("i18n: parsing embedded catalog: %v", err))
	}
}

// T resolves key to its message, or returns key itself when absent.
func T(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}
