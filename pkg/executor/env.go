package executor

import (
	"os"
	"sort"
	"strings"
)

// nestedSessionVars are dropped from the inherited environment so the CLI
// does not refuse to start when the gateway itself runs under it.
var nestedSessionVars = map[string]bool{
	"CLAUDECODE":             true,
	"CLAUDE_CODE_ENTRYPOINT": true,
}

// BuildCommandEnv builds command environment variables from the host environment
// and applies overrides from left to right. An override with an empty value
// removes the variable.
func BuildCommandEnv(overrides ...map[string]string) []string {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if nestedSessionVars[key] {
			continue
		}
		envMap[key] = value
	}

	for _, override := range overrides {
		for key, value := range override {
			if strings.TrimSpace(key) == "" {
				continue
			}
			if value == "" {
				delete(envMap, key)
				continue
			}
			envMap[key] = value
		}
	}

	keys := make([]string, 0, len(envMap))
	for key := range envMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key+"="+envMap[key])
	}

	return result
}
