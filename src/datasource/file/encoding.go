package file

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decodeText 转成UTF-8：指定字符集优先；否则按BOM识别UTF-8/UTF-16，非法UTF-8按Latin-1兜底
func decodeText(data []byte, charset string) ([]byte, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "utf8" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("未知字符集 %s: %w", charset, err)
		}
		out, _, err := transform.Bytes(enc.NewDecoder(), data)
		if err != nil {
			return nil, fmt.Errorf("%s 解码失败: %w", charset, err)
		}
		return out, nil
	}

	switch {
	case bytes.HasPrefix(data, bomUTF8), bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return nil, fmt.Errorf("BOM 解码失败: %w", err)
		}
		return out, nil
	case utf8.Valid(data):
		return data, nil
	default:
		return charmap.ISO8859_1.NewDecoder().Bytes(data)
	}
}
