package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashParams derives a stable hash from an ordered parameter list.
func HashParams(params ...string) string {
	return HashString(strings.Join(params, "\x1f"))
}
