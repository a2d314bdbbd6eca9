package http11

var methodNames = [...]string{
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodPATCH:   "PATCH",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodCONNECT: "CONNECT",
	MethodTRACE:   "TRACE",
}

// ParseMethodID converts an HTTP method to a numeric ID.
// Returns MethodUnknown for methods outside the well-known set; such methods
// are still valid if they are tokens.
//
// Allocation behavior: 0 allocs/op
func ParseMethodID(method []byte) uint8 {
	// Fast path: check length first to reduce comparisons
	switch len(method) {
	case 3:
		if string(method) == "GET" {
			return MethodGET
		}
		if string(method) == "PUT" {
			return MethodPUT
		}
	case 4:
		if string(method) == "POST" {
			return MethodPOST
		}
		if string(method) == "HEAD" {
			return MethodHEAD
		}
	case 5:
		if string(method) == "PATCH" {
			return MethodPATCH
		}
		if string(method) == "TRACE" {
			return MethodTRACE
		}
	case 6:
		if string(method) == "DELETE" {
			return MethodDELETE
		}
	case 7:
		if string(method) == "OPTIONS" {
			return MethodOPTIONS
		}
		if string(method) == "CONNECT" {
			return MethodCONNECT
		}
	}
	return MethodUnknown
}

// MethodString returns the string representation of a method ID,
// or "" for MethodUnknown.
func MethodString(id uint8) string {
	if int(id) >= len(methodNames) {
		return ""
	}
	return methodNames[id]
}

// methodString returns the canonical string for well-known methods so parsing
// them does not allocate.
func methodString(id uint8, raw []byte) string {
	if id != MethodUnknown {
		return methodNames[id]
	}
	return string(raw)
}
