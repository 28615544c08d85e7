package config

import (
	"os"
	"strconv"
	"strings"
	"testing"
)

// FuzzScenarioTOML feeds random-ish fields into a tiny suite and ensures the
// loader does not panic.
func FuzzScenarioTOML(f *testing.F) {
	f.Add("express", "node main.js", "Listening at", "http://localhost:3333/api", 1)
	f.Add("", "true", "", "::not a url", 0)

	f.Fuzz(func(t *testing.T, name, cmd, marker, url string, sessions int) {
		clean := func(s string) string {
			s = strings.ReplaceAll(s, "\"", "")
			s = strings.ReplaceAll(s, "\\", "")
			return strings.ReplaceAll(s, "\n", "")
		}
		var b strings.Builder
		b.WriteString("[[scenarios]]\n")
		b.WriteString("name = \"" + clean(name) + "\"\n")
		b.WriteString("command = \"" + clean(cmd) + "\"\n")
		b.WriteString("marker = \"" + clean(marker) + "\"\n")
		b.WriteString("probe_url = \"" + clean(url) + "\"\n")
		if sessions >= 0 && sessions < 100 {
			b.WriteString("sessions = " + strconv.Itoa(sessions) + "\n")
		}
		tmp := t.TempDir() + "/fuzz.toml"
		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			t.Skip()
		}
		_, _ = Load(tmp) // must not panic
	})
}
