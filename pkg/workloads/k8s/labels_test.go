package k8s_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	k8s "github.com/opst/testpod-controller/pkg/workloads/k8s"
)

type FakeSelector string

func (fs FakeSelector) QueryString(key string) string {
	return key + ":" + string(fs)
}

func (fs FakeSelector) Equal(s k8s.SelectorElement) bool {
	switch t := s.(type) {
	case FakeSelector:
		return t == fs
	default:
		return false
	}
}

func TestLabelSelector(t *testing.T) {
	t.Run("when empty LabelSelector is built, it makes empty", func(t *testing.T) {
		testee := k8s.LabelSelector{}
		if testee.QueryString() != "" {
			t.Errorf(`not match: "%s" is not empty`, testee.QueryString())
		}
	})

	t.Run("when LabelSelector is not empty,", func(t *testing.T) {
		testee := k8s.LabelSelector{
			"foo":  FakeSelector("bar"),
			"fizz": FakeSelector("bazz"),
			"aaa":  FakeSelector("bbb"),
		}

		t.Run("its QueryString should be comma-separeated QueryStrings of selectors", func(t *testing.T) {
			actual := strings.Split(testee.QueryString(), ",")
			sort.Strings(actual)
			expected := []string{"aaa:bbb", "fizz:bazz", "foo:bar"}

			if diff := cmp.Diff(expected, actual); diff != "" {
				t.Errorf("not match (-want +got):\n%s", diff)
			}
		})
	})
}

func TestEqualityBasedSelector(t *testing.T) {
	for name, testcase := range map[string]struct {
		when string
		then string
	}{
		`when its value is not started with =, == not !=, it should mean "equality"`: {
			when: "value1", then: "label=value1",
		},
		`when its value is started with =, it should mean "equality"`: {
			when: "=value2", then: "label=value2",
		},
		`when its value is started with ==, it should mean "equality"`: {
			when: "==value3", then: "label=value3",
		},
		`when its value is started with !=, it should mean "inequality"`: {
			when: "!=value4", then: "label!=value4",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("as QueryString", func(t *testing.T) {
				actual := k8s.EqualityBased(testcase.when).QueryString("label")
				if actual != testcase.then {
					t.Errorf(
						"not match: (actual, expected) = (`%s`, `%s`)",
						actual, testcase.then,
					)
				}
			})
		})
	}

	for name, testcase := range map[string]struct {
		eq  []k8s.EqualityBased
		neq []k8s.EqualityBased
	}{
		"for equality operators": {
			eq: []k8s.EqualityBased{
				"value", "=value", "==value",
			},
			neq: []k8s.EqualityBased{
				"other",   // value is different
				"!=value", // operator is different
			},
		},
		"for inequality operators": {
			eq: []k8s.EqualityBased{
				"!=value",
			},
			neq: []k8s.EqualityBased{
				"!=other", // value is different
				"=value",  // operator is different
			},
		},
	} {
		t.Run("it is equal for other EqalityBased Selector as long as both of operator and value are same"+name, func(t *testing.T) {
			for _, a := range testcase.eq {
				for _, b := range testcase.eq {
					if !a.Equal(b) {
						t.Errorf("unexpected: %s != %s", a, b)
					}
				}
			}
			for _, a := range testcase.eq {
				for _, b := range testcase.neq {
					if a.Equal(b) {
						t.Errorf("unexpected: %s == %s", a, b)
					}
					if b.Equal(a) {
						t.Errorf("unexpected: %s == %s", a, b)
					}
				}
			}
		})
	}
}

func TestLabelSelector_Matches(t *testing.T) {
	selector := k8s.LabelSelector{
		"galasa-engine-controller": k8s.EqualityBased("k8s-standard-engine"),
		"galasa-run":               k8s.EqualityBased("!=U1"),
	}

	for name, testcase := range map[string]struct {
		labels map[string]string
		then   bool
	}{
		"all conditions hold": {
			labels: map[string]string{"galasa-engine-controller": "k8s-standard-engine", "galasa-run": "U2"},
			then:   true,
		},
		"an inequality holds for a missing label": {
			labels: map[string]string{"galasa-engine-controller": "k8s-standard-engine"},
			then:   true,
		},
		"an equality fails": {
			labels: map[string]string{"galasa-engine-controller": "other", "galasa-run": "U2"},
			then:   false,
		},
		"an inequality fails": {
			labels: map[string]string{"galasa-engine-controller": "k8s-standard-engine", "galasa-run": "U1"},
			then:   false,
		},
	} {
		t.Run(name, func(t *testing.T) {
			if actual := selector.Matches(testcase.labels); actual != testcase.then {
				t.Errorf("mismatch. (actual, expected) = (%v, %v)", actual, testcase.then)
			}
		})
	}

	t.Run("other selectors never match", func(t *testing.T) {
		if (k8s.LabelSelector{"a": FakeSelector("b")}).Matches(map[string]string{"a": "b"}) {
			t.Error("unexpected match")
		}
	})
}
