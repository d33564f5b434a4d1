package dataset

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Supported text encodings for remote CSV payloads.
const (
	EncodingUTF8    = "utf-8"
	EncodingGBK     = "gbk"
	EncodingGB18030 = "gb18030"
)

// DecodingReader wraps r so that it yields UTF-8 text decoded from the named encoding.
// An empty name is treated as UTF-8.
func DecodingReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingUTF8, "utf8":
		return r, nil
	case EncodingGBK:
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()), nil
	case EncodingGB18030:
		return transform.NewReader(r, simplifiedchinese.GB18030.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported text encoding %q", encoding)
	}
}

// ValidateEncoding reports whether encoding is accepted by DecodingReader.
func ValidateEncoding(encoding string) error {
	_, err := DecodingReader(strings.NewReader(""), encoding)
	return err
}
