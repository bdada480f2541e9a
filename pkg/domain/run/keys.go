package run

import (
	"strconv"
	"strings"
	"time"

	xe "github.com/opst/testpod-controller/pkg/errors"
)

// Prefix is the common prefix of keys about runs.
const Prefix = "run."

// Fields of a run record. The key is "run.<name>.<field>".
const (
	FieldStatus            = "status"
	FieldResult            = "result"
	FieldQueued            = "queued"
	FieldHeartbeat         = "heartbeat"
	FieldInterruptReason   = "interruptReason"
	FieldRasActions        = "rasActions"
	FieldRasRunID          = "rasrunid"
	FieldLocal             = "local"
	FieldSharedEnvironment = "shared.environment"
	FieldTrace             = "trace"
	FieldGroup             = "group"
	FieldStream            = "stream"
	FieldRequestor         = "requestor"
	FieldTest              = "test"
	FieldController        = "controller"
	FieldAllocated         = "allocated"
	FieldAllocateTimeout   = "allocate.timeout"
	FieldFinished          = "finished"
)

// Key builds the store key of a field of the run.
func Key(name string, field string) string {
	return Prefix + name + "." + field
}

// SplitKey is the reverse of Key.
//
// ok is false when key is not about runs.
func SplitKey(key string) (name string, field string, ok bool) {
	rest, found := strings.CutPrefix(key, Prefix)
	if !found {
		return "", "", false
	}
	name, field, found = strings.Cut(rest, ".")
	if !found || name == "" || field == "" {
		return "", "", false
	}
	return name, field, true
}

// FormatTime formats timestamps as they are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, xe.Invalidf("timestamp %q", s)
	}
	return t, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// Group sorts kvs by run name. The returned maps are keyed by field.
func Group(kvs map[string]string) map[string]map[string]string {
	ret := map[string]map[string]string{}
	for k, v := range kvs {
		name, field, ok := SplitKey(k)
		if !ok {
			continue
		}
		fields, ok := ret[name]
		if !ok {
			fields = map[string]string{}
			ret[name] = fields
		}
		fields[field] = v
	}
	return ret
}

// FromFields builds a Run from its fields.
//
// It fails when the run has no status or has broken values.
func FromFields(name string, fields map[string]string) (Run, error) {
	status, ok := fields[FieldStatus]
	if !ok {
		return Run{}, xe.Missingf("status of run %s", name)
	}

	r := Run{
		Name:              name,
		Status:            AsStatus(status),
		Result:            fields[FieldResult],
		InterruptReason:   Result(strings.TrimSpace(fields[FieldInterruptReason])),
		Local:             parseBool(fields[FieldLocal]),
		SharedEnvironment: parseBool(fields[FieldSharedEnvironment]),
		Trace:             parseBool(fields[FieldTrace]),
		Group:             fields[FieldGroup],
		Stream:            fields[FieldStream],
		Requestor:         fields[FieldRequestor],
		RasRunID:          fields[FieldRasRunID],
		Test:              fields[FieldTest],
	}

	if q, ok := fields[FieldQueued]; ok && q != "" {
		t, err := ParseTime(q)
		if err != nil {
			return Run{}, xe.WrapWithNote("queued of run "+name, err)
		}
		r.Queued = t
	}

	if hb, ok := fields[FieldHeartbeat]; ok && hb != "" {
		t, err := ParseTime(hb)
		if err != nil {
			return Run{}, xe.WrapWithNote("heartbeat of run "+name, err)
		}
		r.Heartbeat = &t
	}

	actions, err := DecodeRasActions(fields[FieldRasActions])
	if err != nil {
		return Run{}, xe.WrapWithNote("rasActions of run "+name, err)
	}
	r.RasActions = actions

	return r, nil
}
