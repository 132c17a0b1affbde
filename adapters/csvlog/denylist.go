package csvlog

// DenylistEntry is a session excluded by policy, with the documented reason
type DenylistEntry struct {
	ProlificPID string
	Reason      string
}

// Denylist holds known-bad sessions. Their logs are rejected as marked-invalid
// even when otherwise well-formed.
var Denylist = []DenylistEntry{
	{ProlificPID: "5feb726715b59bbd3c904409", Reason: "wrote in to say the semicolon key was broken"},
	{ProlificPID: "5bc2e0ec4f3bfd00012e97b5", Reason: "obviously phoning it in"},
	{ProlificPID: "5e328fc0a7365325cc819dae", Reason: "repeat runs of more than 10 identical choices"},
}

var denylisted = func() map[string]string {
	m := make(map[string]string, len(Denylist))
	for _, e := range Denylist {
		m[e.ProlificPID] = e.Reason
	}
	return m
}()

// IsDenylisted reports whether pid is excluded and why
func IsDenylisted(pid string) (string, bool) {
	reason, ok := denylisted[pid]
	return reason, ok
}
