package sanitize

import "testing"

func TestForFolderName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"my-project", "my-project"},
		{"My Project!", "MyProject"},
		{"../../etc", "....etc"},
		{"release_1.2", "release_1.2"},
		{"日本語", ""},
		{"#general", "general"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ForFolderName(tt.input); got != tt.want {
				t.Errorf("ForFolderName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsUsableFolderName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", "a b"} {
		if IsUsableFolderName(name) {
			t.Errorf("IsUsableFolderName(%q) should be false", name)
		}
	}
	for _, name := range []string{"a", "...", "ses_abc", "x.y-z"} {
		if !IsUsableFolderName(name) {
			t.Errorf("IsUsableFolderName(%q) should be true", name)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/usr/bin/airlock", "/usr/bin/airlock"},
		{"", "''"},
		{"has space", "'has space'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.input); got != tt.want {
			t.Errorf("ShellQuote(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
