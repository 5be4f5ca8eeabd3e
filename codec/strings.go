package codec

import (
	"fmt"

	"clxtag/tag"
)

// EncodeString converts s to the controller's character set. Runes outside
// 7-bit ASCII become '?'. Results longer than tag.StringMaxLen fail with
// *tag.OverflowError.
func EncodeString(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0x7F {
			r = '?'
		}
		out = append(out, byte(r))
	}
	if len(out) > tag.StringMaxLen {
		return nil, &tag.OverflowError{Value: s, Len: len(out)}
	}
	return out, nil
}

// CheckString encodes s for storage in one element. Anything longer than
// tag.StringCapacity would overwrite the next element's length field and
// fails with *tag.OverflowError.
func CheckString(s string) ([]byte, error) {
	data, err := EncodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) > tag.StringCapacity {
		return nil, &tag.OverflowError{Value: s, Len: len(data), Max: tag.StringCapacity}
	}
	return data, nil
}

// CheckStrings runs CheckString over values when t is a string type,
// failing on the first one that does not fit.
func CheckStrings(t tag.Type, values []tag.Value) error {
	if !t.IsString() {
		return nil
	}
	for _, v := range values {
		if _, err := CheckString(v.Str()); err != nil {
			return err
		}
	}
	return nil
}

// writeString stages one string element at byte offset off: the length at
// off+0 and the characters from off+4.
func writeString(ch tag.Channel, off int, s string) error {
	data, err := CheckString(s)
	if err != nil {
		return err
	}
	if err := ch.SetInt16(off+tag.StringLenOffset, int16(len(data))); err != nil {
		return err
	}
	for i, b := range data {
		if err := ch.SetUint8(off+tag.StringDataOffset+i, b); err != nil {
			return err
		}
	}
	return nil
}

func readString(ch tag.Channel, off int) (string, error) {
	n, err := ch.GetInt16(off + tag.StringLenOffset)
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > tag.StringCapacity {
		return "", fmt.Errorf("string length %d at offset %d out of range", n, off)
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := ch.GetUint8(off + tag.StringDataOffset + i)
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}
