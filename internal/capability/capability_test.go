package capability

import "testing"

func TestSet_FileRead_ExactAndPrefix(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: FileRead, Pattern: "/etc/hosts"})
	s.Grant(Capability{Kind: FileRead, Pattern: "/home/user/"})

	tests := []struct {
		path string
		want bool
	}{
		{"/etc/hosts", true},
		{"/etc/passwd", false},
		{"/home/user/file.txt", true},
		{"/home/user/sub/dir/file.txt", true},
		{"/home/other/file.txt", false},
		{"/home/user/../../etc/passwd", false},
		{"/home/user/sub/../../../etc/shadow", false},
	}
	for _, tt := range tests {
		if got := s.CheckFileRead(tt.path); got != tt.want {
			t.Errorf("CheckFileRead(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSet_Network_Wildcard(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: NetworkAccess, Pattern: "*.example.com"})
	s.Grant(Capability{Kind: NetworkAccess, Pattern: "api.internal"})

	tests := []struct {
		host string
		want bool
	}{
		{"foo.example.com", true},
		{"example.com", false},
		{"api.internal", true},
		{"evil.com", false},
	}
	for _, tt := range tests {
		if got := s.CheckNetwork(tt.host); got != tt.want {
			t.Errorf("CheckNetwork(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestSet_Network_BareWildcardMatchesAny(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: NetworkAccess, Pattern: "*"})
	if !s.CheckNetwork("anything.at.all") {
		t.Errorf("CheckNetwork with bare wildcard grant should match any host")
	}
}

func TestSet_Shell_FirstTokenAndWildcard(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: ShellExec, Pattern: "ls"})
	s.Grant(Capability{Kind: ShellExec, Pattern: "git"})

	tests := []struct {
		cmd  string
		want bool
	}{
		{"ls -la /tmp", true},
		{"git status", true},
		{"rm -rf /", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := s.CheckShell(tt.cmd); got != tt.want {
			t.Errorf("CheckShell(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}

	s2 := New()
	s2.Grant(Capability{Kind: ShellExec, Pattern: "*"})
	if !s2.CheckShell("anything --flag") {
		t.Errorf("CheckShell with wildcard grant should allow any command")
	}
}

func TestSet_Revoke(t *testing.T) {
	s := New()
	cap := Capability{Kind: FileWrite, Pattern: "/tmp/out.txt"}
	s.Grant(cap)
	if !s.CheckFileWrite("/tmp/out.txt") {
		t.Fatalf("expected grant to take effect")
	}
	s.Revoke(cap)
	if s.CheckFileWrite("/tmp/out.txt") {
		t.Errorf("expected revoke to remove the grant")
	}
}

func TestSet_SnapshotAndLoad(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: DatabaseQuery, Pattern: "reporting"})
	snap := s.Snapshot()

	restored := New()
	restored.Load(snap)
	if !restored.CheckDatabase("reporting") {
		t.Errorf("expected restored set to retain grants from snapshot")
	}
}

func TestSet_Covers(t *testing.T) {
	s := New()
	s.Grant(Capability{Kind: FileRead, Pattern: "/data/"})
	s.Grant(Capability{Kind: NetworkAccess, Pattern: "*.internal"})

	required := []Capability{
		{Kind: FileRead, Pattern: "/data/report.csv"},
		{Kind: NetworkAccess, Pattern: "svc.internal"},
	}
	if !s.Covers(required) {
		t.Errorf("expected Covers to be true when every requirement is granted")
	}

	required = append(required, Capability{Kind: ShellExec, Pattern: "curl"})
	if s.Covers(required) {
		t.Errorf("expected Covers to be false when one requirement is ungranted")
	}
}
