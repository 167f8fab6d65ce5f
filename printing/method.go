package printing

import "strings"

// Method selects the rendering backend for a receipt.
type Method string

const (
	MethodESCPOS Method = "escpos"
	MethodPDF    Method = "pdf"
)

// ParseMethod maps a stored print_method value to a Method. Empty or unknown values fall back to ESC/POS.
func ParseMethod(v string) Method {
	switch Method(strings.ToLower(strings.TrimSpace(v))) {
	case MethodPDF:
		return MethodPDF
	default:
		return MethodESCPOS
	}
}

func (m Method) String() string { return string(m) }
