// Package bencode 实现 hivemind 与 snode/通知器之间交换数据所需的 bencode 编解码。
//
// 没有任何被检索到的示例仓库依赖现成的 bencode 库（不像 protobuf/RLP 等有大量
// 第三方实现可借鉴），因此这里手写了一个最小可用的实现，仅覆盖本仓库实际用到的
// 四种值类型：有符号整数、字节串、列表、字典（键必须是字节串/字符串）。
// 字典按键的字节序排序输出，与 BEP-3 的规范编码要求一致。见 DESIGN.md 中对该
// 选择的说明。
package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrUnsupportedType 无法编码的 Go 类型
	ErrUnsupportedType = errors.New("bencode: unsupported type")
	// ErrTruncated 输入在预期结束前耗尽
	ErrTruncated = errors.New("bencode: truncated input")
	// ErrSyntax 输入不符合 bencode 语法
	ErrSyntax = errors.New("bencode: syntax error")
	// ErrTrailingData 解码后仍有剩余字节
	ErrTrailingData = errors.New("bencode: trailing data after value")
)

// Dict 是一个有序无关的字典值；编码时键总是按字节序排序。
type Dict map[string]any

// List 是一个 bencode 列表值。
type List []any

// Bytes 标记一个值应被编码/解码为 bencode 字节串（而不是字符串）。
// 解码结果中的字节串总是 []byte。
type Bytes []byte

// Marshal 将 v 编码为 bencode。支持的类型：
// int, int64, string, []byte, Bytes, List, []any, Dict, map[string]any。
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case int:
		return encodeInt(buf, int64(t))
	case int64:
		return encodeInt(buf, t)
	case uint64:
		// 用于 swarm_id/namespace 之外的大整数场景；按十进制写出。
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatUint(t, 10))
		buf.WriteByte('e')
		return nil
	case string:
		return encodeBytes(buf, []byte(t))
	case []byte:
		return encodeBytes(buf, t)
	case Bytes:
		return encodeBytes(buf, []byte(t))
	case List:
		return encodeList(buf, []any(t))
	case []any:
		return encodeList(buf, t)
	case Dict:
		return encodeDict(buf, map[string]any(t))
	case map[string]any:
		return encodeDict(buf, t)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func encodeInt(buf *bytes.Buffer, n int64) error {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
	return nil
}

func encodeBytes(buf *bytes.Buffer, b []byte) error {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
	return nil
}

func encodeList(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('l')
	for _, it := range items {
		if err := encodeValue(buf, it); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeDict(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('d')
	for _, k := range keys {
		if err := encodeBytes(buf, []byte(k)); err != nil {
			return err
		}
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

// Unmarshal 解码单个 bencode 值。整数解码为 int64，字节串解码为 []byte，
// 列表解码为 []any，字典解码为 map[string]any。
func Unmarshal(data []byte) (any, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, ErrTrailingData
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) value() (any, error) {
	if d.pos >= len(d.data) {
		return nil, ErrTruncated
	}
	switch d.data[d.pos] {
	case 'i':
		return d.integer()
	case 'l':
		return d.list()
	case 'd':
		return d.dict()
	default:
		return d.byteString()
	}
}

func (d *decoder) integer() (int64, error) {
	// 跳过 'i'
	d.pos++
	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return 0, ErrTruncated
	}
	s := string(d.data[d.pos : d.pos+end])
	d.pos += end + 1
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrSyntax, s)
	}
	return n, nil
}

func (d *decoder) byteString() ([]byte, error) {
	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, fmt.Errorf("%w: missing length prefix", ErrSyntax)
	}
	lenStr := string(d.data[d.pos : d.pos+colon])
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad string length %q", ErrSyntax, lenStr)
	}
	start := d.pos + colon + 1
	end := start + n
	if end > len(d.data) {
		return nil, ErrTruncated
	}
	d.pos = end
	out := make([]byte, n)
	copy(out, d.data[start:end])
	return out, nil
}

func (d *decoder) list() ([]any, error) {
	d.pos++ // 'l'
	out := []any{}
	for {
		if d.pos >= len(d.data) {
			return nil, ErrTruncated
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return out, nil
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (d *decoder) dict() (map[string]any, error) {
	d.pos++ // 'd'
	out := map[string]any{}
	for {
		if d.pos >= len(d.data) {
			return nil, ErrTruncated
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return out, nil
		}
		key, err := d.byteString()
		if err != nil {
			return nil, fmt.Errorf("bencode: dict key: %w", err)
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		out[string(key)] = v
	}
}
