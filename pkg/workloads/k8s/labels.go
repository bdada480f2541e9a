package k8s

import (
	"strings"
)

// LabelSelector maps label keys to conditions on their values.
type LabelSelector map[string]SelectorElement

// QueryString builds the value of "labelSelector" query parameter.
func (ls LabelSelector) QueryString() string {
	parts := make([]string, 0, len(ls))
	for k, sel := range ls {
		parts = append(parts, sel.QueryString(k))
	}
	return strings.Join(parts, ",")
}

// Matches tells whether labels satisfies all conditions of ls,
// as far as conditions are EqualityBased.
func (ls LabelSelector) Matches(labels map[string]string) bool {
	for k, sel := range ls {
		eb, ok := sel.(EqualityBased)
		if !ok {
			return false
		}
		op, value := eb.split()
		actual, found := labels[k]
		switch op {
		case "!=":
			if found && actual == value {
				return false
			}
		default:
			if !found || actual != value {
				return false
			}
		}
	}
	return true
}

type SelectorElement interface {
	QueryString(key string) string
	Equal(other SelectorElement) bool
}

// EqualityBased is a selector with "=", "==" or "!=" operator.
//
// A value without operator means equality.
type EqualityBased string

var _ SelectorElement = EqualityBased("")

func (eb EqualityBased) split() (op string, value string) {
	s := string(eb)
	switch {
	case strings.HasPrefix(s, "!="):
		return "!=", s[2:]
	case strings.HasPrefix(s, "=="):
		return "=", s[2:]
	case strings.HasPrefix(s, "="):
		return "=", s[1:]
	default:
		return "=", s
	}
}

func (eb EqualityBased) QueryString(key string) string {
	op, value := eb.split()
	return key + op + value
}

func (eb EqualityBased) Equal(other SelectorElement) bool {
	o, ok := other.(EqualityBased)
	if !ok {
		return false
	}
	op1, v1 := eb.split()
	op2, v2 := o.split()
	return op1 == op2 && v1 == v2
}
