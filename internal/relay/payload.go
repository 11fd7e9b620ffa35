package relay

import (
	"encoding/hex"
	"strconv"
	"strings"
)

func decodeHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	return hex.DecodeString(s)
}

func unescape(s string) ([]byte, error) {
	if !strings.Contains(s, `\`) {
		return []byte(s), nil
	}
	q, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`)
	if err != nil {
		return nil, err
	}
	return []byte(q), nil
}
