package icrypto

import (
	"encoding/binary"
)

const (
	aadKeyWrap = "KEYWRAP"
	aadKEK     = "KEK"
)

// AADKeyWrap binds a wrapped key envelope to the alias it was created for,
// so an envelope copied under another alias fails to open.
func AADKeyWrap(namespace, alias string, ver int) []byte {
	return buildAAD(aadKeyWrap, namespace, alias, ver)
}

// KEKInfo is the HKDF info used to derive the per-alias key-encryption key.
func KEKInfo(namespace, alias string, ver int) []byte {
	return buildAAD(aadKEK, namespace, alias, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
