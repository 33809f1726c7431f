package openid

import (
	"bytes"
	"fmt"
	"strings"
)

// EncodeKV renders pairs as "key:value\n" lines in the given order
func EncodeKV(pairs [][2]string) []byte {
	var b bytes.Buffer
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteByte(':')
		b.WriteString(p[1])
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// DecodeKV parses a key-value form document
func DecodeKV(data []byte) ([][2]string, error) {
	var pairs [][2]string
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("kv form line %d has no colon", i+1)
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

func validKVValue(s string) bool {
	return !strings.ContainsRune(s, '\n')
}
