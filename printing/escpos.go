package printing

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/order_printer/models"
)

var (
	escInit              = []byte{0x1B, 0x40}
	escUTF8CodePage      = []byte{0x1C, 0x28, 0x43, 0x01, 0x00, 0x30, 0x32}
	escCJKFont           = []byte{0x1C, 0x28, 0x43, 0x03, 0x00, 0x3C, 0x00, 0x14}
	escAlignLeft         = []byte{0x1B, 0x61, 0x00}
	escAlignCenter       = []byte{0x1B, 0x61, 0x01}
	escAlignRight        = []byte{0x1B, 0x61, 0x02}
	escBoldOn            = []byte{0x1B, 0x45, 0x01}
	escBoldOff           = []byte{0x1B, 0x45, 0x00}
	escFullCut           = []byte{0x1D, 0x56, 0x41, 0x00}
	escLineFeed     byte = 0x0A
)

// ESCPOSBackend renders raw ESC/POS commands and hands them to the spooler unmodified.
type ESCPOSBackend struct {
	Spooler Spooler
	Now     func() time.Time
}

func (b *ESCPOSBackend) RenderAndPrint(ctx context.Context, payload models.OrderPayload, printer string) error {
	data := RenderESCPOS(BuildReceipt(payload, b.now()))
	if err := b.Spooler.PrintRaw(ctx, printer, data); err != nil {
		return &PrintError{Method: MethodESCPOS, Printer: printer, Err: err}
	}
	return nil
}

func (b *ESCPOSBackend) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// RenderESCPOS encodes receipt lines as an ESC/POS byte stream ending in a full cut.
func RenderESCPOS(lines []ReceiptLine) []byte {
	var buf bytes.Buffer
	buf.Write(escInit)
	buf.Write(escUTF8CodePage)
	buf.Write(escCJKFont)

	for _, line := range lines {
		if line.Rule {
			buf.WriteString(strings.Repeat("-", ReceiptWidth))
			buf.WriteByte(escLineFeed)
			continue
		}
		switch line.Align {
		case AlignCenter:
			buf.Write(escAlignCenter)
		case AlignRight:
			buf.Write(escAlignRight)
		default:
			buf.Write(escAlignLeft)
		}
		if line.Bold {
			buf.Write(escBoldOn)
		}
		buf.WriteString(line.Text)
		if line.Bold {
			buf.Write(escBoldOff)
		}
		buf.WriteByte(escLineFeed)
	}

	buf.Write(escAlignLeft)
	buf.WriteByte(escLineFeed)
	buf.WriteByte(escLineFeed)
	buf.Write(escFullCut)
	return buf.Bytes()
}
