package asm

import "fmt"

// ValueKind tags the four variants a Value may hold, spec.md §4.1.
type ValueKind byte

const (
	KindBool ValueKind = iota
	KindInt
	KindReal
	KindString
)

// A Value is the tagged union the Expression Evaluator produces and
// consumes. Integer promotion: bool -> int; mixed int/real -> real;
// string coercion is only legal for display and for DEFM/DEFH/DEFGX/
// TRACE/INCLUDEBIN (spec.md §4.1).
type Value struct {
	Kind ValueKind
	B    bool
	I    int64
	R    float64
	S    string
}

func boolValue(b bool) Value   { return Value{Kind: KindBool, B: b} }
func intValue(i int64) Value   { return Value{Kind: KindInt, I: i} }
func realValue(r float64) Value { return Value{Kind: KindReal, R: r} }
func stringValue(s string) Value { return Value{Kind: KindString, S: s} }

// AsInt promotes the value to an integer (bool -> 0/1, real truncates).
func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindBool:
		if v.B {
			return 1
		}
		return 0
	case KindInt:
		return v.I
	case KindReal:
		return int64(v.R)
	default:
		return 0
	}
}

// AsReal promotes the value to a float64.
func (v Value) AsReal() float64 {
	switch v.Kind {
	case KindBool:
		if v.B {
			return 1
		}
		return 0
	case KindInt:
		return float64(v.I)
	case KindReal:
		return v.R
	default:
		return 0
	}
}

// AsBool coerces the value to a boolean (nonzero/non-empty is true).
func (v Value) AsBool() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindReal:
		return v.R != 0
	case KindString:
		return v.S != ""
	default:
		return false
	}
}

// IsNumeric reports whether the value is a bool, int, or real (i.e. not
// a string). Bitwise/shift operators and most pragma expressions require
// this.
func (v Value) IsNumeric() bool { return v.Kind != KindString }

// String renders the value for display/TRACE purposes.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%v", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindReal:
		return fmt.Sprintf("%g", v.R)
	case KindString:
		return v.S
	default:
		return ""
	}
}

// promote returns the common kind two operands should be evaluated in:
// bool promotes to int; mixed int/real promotes to real.
func promote(a, b Value) ValueKind {
	ka, kb := a.Kind, b.Kind
	if ka == KindBool {
		ka = KindInt
	}
	if kb == KindBool {
		kb = KindInt
	}
	if ka == KindReal || kb == KindReal {
		return KindReal
	}
	return KindInt
}
