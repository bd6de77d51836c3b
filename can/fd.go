package can

import "fmt"

// canfd_frame flags (same values as <linux/can.h>)
const (
	CANFD_BRS = 0x01 // bit rate switch
	CANFD_ESI = 0x02 // error state indicator of the transmitting node
	CANFD_FDF = 0x04 // set by newer kernels on every FD frame
)

// fdLens lists the payload lengths an FD frame can encode.
var fdLens = [...]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// FDLen returns the smallest valid CAN FD payload length that can hold n
// bytes. It panics if n is negative or greater than 64.
func FDLen(n int) uint8 {
	if n < 0 || n > FDMaxDataLen {
		panic(fmt.Sprintf("can: fd payload length %d out of range", n))
	}
	for _, l := range fdLens {
		if int(l) >= n {
			return l
		}
	}
	return FDMaxDataLen
}

// ValidFDLen reports whether n is one of the FD payload lengths.
func ValidFDLen(n int) bool {
	for _, l := range fdLens {
		if int(l) == n {
			return true
		}
	}
	return false
}
