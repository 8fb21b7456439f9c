package variables

import (
	"log"
	"os"
	"strconv"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	HISTORY_LIMIT_DEFAULT = "500"
	HISTORY_LIMIT_NAME    = "RELAY_HISTORY_LIMIT"

	// Inline attachment/audio payloads past this size are truncated,
	// not rejected.
	MAX_INLINE_BYTES_DEFAULT = "10485760"
	MAX_INLINE_BYTES_NAME    = "RELAY_MAX_INLINE_BYTES"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(variable string) (int, error) {
	return strconv.Atoi(variable)
}

func EnvInt(variableName, defaultValue string) int {
	val, err := ParseInt(Env(variableName, defaultValue))
	if err != nil {
		fallback, _ := ParseInt(defaultValue)
		log.Printf("[%s]: unparsable, using default %d", variableName, fallback)
		return fallback
	}
	return val
}
