package can

import (
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Parse for text not in candump compact form.
var ErrSyntax = errors.New("can: frame syntax, want ID#DATA")

// Parse reads a frame in candump compact form, the inverse of String:
// up to three hex digits of identifier, '#', then zero to eight bytes of
// hex payload. Dots between bytes are allowed ("123#01.02.03").
func Parse(s string) (Frame, error) {
	idPart, dataPart, ok := strings.Cut(s, "#")
	if !ok || idPart == "" || len(idPart) > 3 {
		return Frame{}, ErrSyntax
	}
	id, err := strconv.ParseUint(idPart, 16, 16)
	if err != nil {
		return Frame{}, ErrSyntax
	}
	if id > MaxID {
		return Frame{}, ErrInvalidID
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataPart, ".", ""))
	if err != nil {
		return Frame{}, ErrSyntax
	}
	if len(data) > MaxLen {
		return Frame{}, ErrInvalidLen
	}
	return NewFrame(uint16(id), data), nil
}
