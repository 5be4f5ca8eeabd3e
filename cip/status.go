package cip

import "fmt"

// StatusError is a non-success general status returned by a device.
type StatusError struct {
	Status   byte
	Extended uint16
}

func (e *StatusError) Error() string {
	if e.Extended != 0 {
		return fmt.Sprintf("CIP error: %s (0x%02X), extended: %s (0x%04X)",
			StatusName(e.Status), e.Status, ExtStatusName(e.Extended), e.Extended)
	}
	return fmt.Sprintf("CIP error: %s (0x%02X)", StatusName(e.Status), e.Status)
}

// StatusName returns the CIP name of a general status code.
func StatusName(status byte) string {
	switch status {
	case StatusSuccess:
		return "Success"
	case 0x01:
		return "Connection Failure"
	case 0x02:
		return "Resource Unavailable"
	case 0x03:
		return "Invalid Parameter"
	case StatusPathSegmentError:
		return "Path Segment Error"
	case StatusPathUnknown:
		return "Path Unknown"
	case StatusPartialTransfer:
		return "Partial Transfer"
	case 0x07:
		return "Connection Lost"
	case StatusServiceNotSupp:
		return "Service Not Supported"
	case 0x09:
		return "Invalid Attribute Value"
	case 0x0E:
		return "Attribute Not Settable"
	case 0x0F:
		return "Privilege Violation"
	case 0x10:
		return "Device State Conflict"
	case 0x11:
		return "Reply Data Too Large"
	case 0x13:
		return "Not Enough Data"
	case 0x15:
		return "Too Much Data"
	case StatusObjectNotExist:
		return "Object Does Not Exist"
	case 0x1E:
		return "Invalid Symbolic"
	case 0x26:
		return "Invalid Path"
	case StatusGeneralError:
		return "General Error"
	default:
		return fmt.Sprintf("Status 0x%02X", status)
	}
}

// ExtStatusName names the Logix and Connection Manager extended status
// codes seen during tag access.
func ExtStatusName(ext uint16) string {
	switch ext {
	case 0x2101:
		return "Illegal Data Type"
	case 0x2104:
		return "Tag Not Found"
	case 0x2105:
		return "Tag Read Only"
	case 0x2107:
		return "Size Too Small"
	case 0x2108:
		return "Size Too Large"
	case 0x2109:
		return "Offset Out of Range"
	case 0x0204:
		return "Unconnected Send Timed Out"
	case 0x0205:
		return "Parameter Error"
	case 0x0311:
		return "Invalid Port"
	case 0x0312:
		return "Invalid Link Address"
	case 0xFF00:
		return "Extended Link Error"
	default:
		return fmt.Sprintf("Extended Status 0x%04X", ext)
	}
}
