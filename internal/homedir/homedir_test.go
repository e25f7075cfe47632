package homedir

import "testing"

func TestExpand(t *testing.T) {
	t.Setenv("HOME", "/home/ann")
	cases := []struct {
		in, want string
	}{
		{"~", "/home/ann"},
		{"~/x.db", "/home/ann/x.db"},
		{"~ann/x.db", "~ann/x.db"},
		{"/var/x.db", "/var/x.db"},
		{"rel/x.db", "rel/x.db"},
	}
	for _, tc := range cases {
		if got := Expand(tc.in); got != tc.want {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := Path(".gotsend.db"); got != "/home/ann/.gotsend.db" {
		t.Errorf("Path(.gotsend.db) = %q", got)
	}
}
